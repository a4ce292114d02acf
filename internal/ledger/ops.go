package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dropps07/GG-Monad/internal/rooms"
)

// CreateRoomRequest contains the parameters for room creation.
type CreateRoomRequest struct {
	EntryFee       int64            `json:"entryFee"`
	MaxPlayers     int              `json:"maxPlayers"`
	GameType       rooms.GameType   `json:"gameType"`
	Visibility     rooms.Visibility `json:"visibility"`
	InviteCode     string           `json:"inviteCode,omitempty"`
	ExpirationTime time.Time        `json:"expirationTime"`
}

// CreateRoom creates a room and returns the ledger-assigned id.
// The creator auto-joins, so the stake is escrowed by this call.
func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (int64, error) {
	if req.EntryFee < 0 {
		return 0, fmt.Errorf("ledger: entry fee must be >= 0, got %d", req.EntryFee)
	}
	if req.MaxPlayers < 2 {
		return 0, fmt.Errorf("ledger: max players must be >= 2, got %d", req.MaxPlayers)
	}
	if _, err := rooms.ParseGameType(string(req.GameType)); err != nil {
		return 0, fmt.Errorf("ledger: %w", err)
	}
	if _, err := rooms.ParseVisibility(string(req.Visibility)); err != nil {
		return 0, fmt.Errorf("ledger: %w", err)
	}
	if req.Visibility == rooms.VisibilityPrivate && req.InviteCode == "" {
		return 0, fmt.Errorf("ledger: private rooms require an invite code")
	}

	params := map[string]any{
		"entryFee":   req.EntryFee,
		"maxPlayers": req.MaxPlayers,
		"gameType":   req.GameType,
		"visibility": req.Visibility,
	}
	if req.InviteCode != "" {
		params["inviteCode"] = req.InviteCode
	}
	if !req.ExpirationTime.IsZero() {
		params["expirationTime"] = req.ExpirationTime.UTC().Format(time.RFC3339)
	}

	resp, err := c.mutate(ctx, opCreateRoom, params)
	if err != nil {
		return 0, err
	}
	if resp.HasError() {
		return 0, resp.FirstError()
	}

	var data struct {
		RoomID int64 `json:"roomId"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return 0, fmt.Errorf("ledger: parse create result: %w", err)
	}
	if data.RoomID <= 0 {
		return 0, fmt.Errorf("ledger: create returned invalid room id %d", data.RoomID)
	}
	return data.RoomID, nil
}

// JoinRoom stakes the entry fee and joins the room's roster.
// inviteCode is required only for private rooms.
func (c *Client) JoinRoom(ctx context.Context, roomID int64, inviteCode string) error {
	if roomID <= 0 {
		return fmt.Errorf("ledger: room id must be positive, got %d", roomID)
	}

	params := map[string]any{"roomId": roomID}
	if inviteCode != "" {
		params["inviteCode"] = inviteCode
	}

	resp, err := c.mutate(ctx, opJoinRoom, params)
	if err != nil {
		return err
	}
	if resp.HasError() {
		return resp.FirstError()
	}
	return nil
}

// SubmitScore records the caller's score for an active room.
func (c *Client) SubmitScore(ctx context.Context, roomID int64, score int64) error {
	if roomID <= 0 {
		return fmt.Errorf("ledger: room id must be positive, got %d", roomID)
	}
	if score < 0 {
		return fmt.Errorf("ledger: score must be >= 0, got %d", score)
	}

	resp, err := c.mutate(ctx, opSubmitScore, map[string]any{
		"roomId": roomID,
		"score":  score,
	})
	if err != nil {
		return err
	}
	if resp.HasError() {
		return resp.FirstError()
	}
	return nil
}

// ClaimPrize pays the net prize out to the winner's balance.
func (c *Client) ClaimPrize(ctx context.Context, roomID int64) error {
	if roomID <= 0 {
		return fmt.Errorf("ledger: room id must be positive, got %d", roomID)
	}

	resp, err := c.mutate(ctx, opClaimPrize, map[string]any{"roomId": roomID})
	if err != nil {
		return err
	}
	if resp.HasError() {
		return resp.FirstError()
	}
	return nil
}

// CancelRoom refunds all stakes and closes a filling room. Creator only.
func (c *Client) CancelRoom(ctx context.Context, roomID int64) error {
	if roomID <= 0 {
		return fmt.Errorf("ledger: room id must be positive, got %d", roomID)
	}

	resp, err := c.mutate(ctx, opCancelRoom, map[string]any{"roomId": roomID})
	if err != nil {
		return err
	}
	if resp.HasError() {
		return resp.FirstError()
	}
	return nil
}

// GetRoom reads one room record. A missing room returns an RPCError with
// code ROOM_NOT_FOUND; transport failures return transient errors instead.
func (c *Client) GetRoom(ctx context.Context, roomID int64) (rooms.Room, error) {
	if roomID <= 0 {
		return rooms.Room{}, fmt.Errorf("ledger: room id must be positive, got %d", roomID)
	}

	resp, err := c.call(ctx, opGetRoom, map[string]any{"roomId": roomID})
	if err != nil {
		return rooms.Room{}, err
	}
	if resp.HasError() {
		return rooms.Room{}, resp.FirstError()
	}

	var data struct {
		Room rooms.Room `json:"room"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return rooms.Room{}, fmt.Errorf("ledger: parse room: %w", err)
	}
	if data.Room.ID == 0 {
		return rooms.Room{}, fmt.Errorf("ledger: room payload missing id")
	}
	return data.Room, nil
}

// GetPlayers reads the room's roster with per-player submission facts.
func (c *Client) GetPlayers(ctx context.Context, roomID int64) ([]rooms.Player, error) {
	if roomID <= 0 {
		return nil, fmt.Errorf("ledger: room id must be positive, got %d", roomID)
	}

	resp, err := c.call(ctx, opGetPlayers, map[string]any{"roomId": roomID})
	if err != nil {
		return nil, err
	}
	if resp.HasError() {
		return nil, resp.FirstError()
	}

	var data struct {
		Players []rooms.Player `json:"players"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("ledger: parse players: %w", err)
	}
	return data.Players, nil
}

// PlayerBalance reads a player's points balance. Advisory pre-flight only;
// the ledger re-validates balances on every join and create.
func (c *Client) PlayerBalance(ctx context.Context, address string) (Balance, error) {
	if address == "" {
		return Balance{}, fmt.Errorf("ledger: address is required")
	}

	resp, err := c.call(ctx, opPlayerBalance, map[string]any{"address": address})
	if err != nil {
		return Balance{}, err
	}
	if resp.HasError() {
		return Balance{}, resp.FirstError()
	}

	var data struct {
		Balance Balance `json:"balance"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return Balance{}, fmt.Errorf("ledger: parse balance: %w", err)
	}
	return data.Balance, nil
}
