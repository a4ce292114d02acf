package rooms

// DefaultCommissionBps is the platform commission in basis points (10%).
const DefaultCommissionBps = 1000

// Prize is the settlement breakdown for a full room.
type Prize struct {
	GrossPool  int64 `json:"grossPool"`
	Commission int64 `json:"commission"`
	NetPrize   int64 `json:"netPrize"`
}

// ComputePrize derives the settlement breakdown from the stake schedule.
// grossPool = entryFee * maxPlayers; commission = floor(grossPool * bps / 10000);
// netPrize = grossPool - commission. Every surface that shows a prize figure
// must go through this function so the numbers never diverge.
func ComputePrize(entryFee int64, maxPlayers int, commissionBps int64) Prize {
	gross := entryFee * int64(maxPlayers)
	commission := gross * commissionBps / 10000
	return Prize{
		GrossPool:  gross,
		Commission: commission,
		NetPrize:   gross - commission,
	}
}
