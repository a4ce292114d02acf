package session

import (
	"context"
	"fmt"

	"github.com/decred/slog"

	"github.com/dropps07/GG-Monad/internal/rooms"
)

// GateLedger is the ledger surface the submission gate drives.
type GateLedger interface {
	GetRoom(ctx context.Context, roomID int64) (rooms.Room, error)
	GetPlayers(ctx context.Context, roomID int64) ([]rooms.Player, error)
	SubmitScore(ctx context.Context, roomID int64, score int64) error
}

// Gate validates a score submission against freshly read room state before
// letting it reach the ledger. Every precondition is re-checked on every
// attempt; nothing is trusted from earlier reads because other players may
// have transitioned the room in between.
type Gate struct {
	ledger GateLedger
	log    slog.Logger
}

// NewGate creates a submission gate over the given ledger surface.
func NewGate(ledger GateLedger, log slog.Logger) *Gate {
	if log == nil {
		log = slog.Disabled
	}
	return &Gate{ledger: ledger, log: log}
}

// TrySubmit checks, in order: the room is active, addr is on the roster,
// and addr has not already submitted. Only when all three hold does it
// issue the ledger write. Every rejection returns before any mutating call.
func (g *Gate) TrySubmit(ctx context.Context, roomID int64, addr string, score int64) error {
	room, err := g.ledger.GetRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("session: read room %d before submit: %w", roomID, err)
	}
	if room.Status != rooms.StatusActive {
		g.log.Debugf("submit rejected: room %d is %s", roomID, room.Status)
		return &StatusError{Status: room.Status, Required: rooms.StatusActive}
	}

	roster := ResolveRoster(ctx, g.ledger, roomID)
	if !roster.Known() {
		g.log.Debugf("submit rejected: roster read failed for room %d: %v", roomID, roster.Err())
		return &RosterUnknownError{RoomID: roomID, Cause: roster.Err()}
	}
	if !roster.IsMember(addr) {
		g.log.Debugf("submit rejected: %s not in room %d roster", addr, roomID)
		return &NotPlayerError{Address: addr, RoomID: roomID}
	}
	if roster.HasSubmitted(addr) {
		g.log.Debugf("submit rejected: %s already submitted in room %d", addr, roomID)
		return &AlreadySubmittedError{Address: addr, RoomID: roomID}
	}

	if err := g.ledger.SubmitScore(ctx, roomID, score); err != nil {
		return err
	}
	g.log.Infof("score %d submitted to room %d by %s", score, roomID, addr)
	return nil
}
