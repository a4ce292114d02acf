package ledger

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// --- Response envelope ---

// Response is the top-level envelope for ledger gateway responses:
// {"errors": [{"code","message"}], "data": {...}}.
type Response struct {
	Errors []RPCError      `json:"errors,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// HasError returns true if the response contains rejection errors.
func (r *Response) HasError() bool {
	return len(r.Errors) > 0
}

// FirstError returns the first rejection, or nil if none.
func (r *Response) FirstError() *RPCError {
	if r.HasError() {
		return &r.Errors[0]
	}
	return nil
}

// --- Balance types ---

// Balance is a player's points balance as reported by the ledger.
// Amounts arrive as wire decimals; room stakes are whole points.
type Balance struct {
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	Currency  string          `json:"currency"`
}

// AvailablePoints returns the whole-point part of the available balance.
func (b Balance) AvailablePoints() int64 {
	return b.Available.IntPart()
}

// Covers reports whether the available balance covers an entry fee.
// Advisory only; the ledger re-validates on join/create.
func (b Balance) Covers(entryFee int64) bool {
	return b.Available.GreaterThanOrEqual(decimal.NewFromInt(entryFee))
}

// --- RPC request ---

// rpcRequest is the standard structure for ledger gateway calls.
type rpcRequest struct {
	Op        string         `json:"op"`
	Params    map[string]any `json:"params"`
	RequestID string         `json:"requestId,omitempty"`
}

// Operation names on the ledger gateway RPC endpoint.
const (
	opCreateRoom    = "room.create"
	opJoinRoom      = "room.join"
	opSubmitScore   = "room.submitScore"
	opClaimPrize    = "room.claimPrize"
	opCancelRoom    = "room.cancel"
	opGetRoom       = "room.get"
	opGetPlayers    = "room.players"
	opPlayerBalance = "player.balance"
)
