package session

import (
	"context"

	"github.com/dropps07/GG-Monad/internal/rooms"
)

// PlayerReader is the single ledger read the roster resolver depends on.
type PlayerReader interface {
	GetPlayers(ctx context.Context, roomID int64) ([]rooms.Player, error)
}

// Roster is the resolved set of players in one room at one read. A failed
// read yields an unknown roster, which answers every membership query
// negatively but must never be treated as "room has no players."
type Roster struct {
	players []rooms.Player
	known   bool
	err     error
}

// ResolveRoster reads the room's player set. It never propagates read
// failures; the returned roster reports Known() == false instead and keeps
// the cause for callers that want to surface or retry it.
func ResolveRoster(ctx context.Context, reader PlayerReader, roomID int64) Roster {
	players, err := reader.GetPlayers(ctx, roomID)
	if err != nil {
		return Roster{err: err}
	}
	return Roster{players: players, known: true}
}

// KnownRoster builds a roster from an in-hand player set, for callers that
// already performed the read.
func KnownRoster(players []rooms.Player) Roster {
	return Roster{players: players, known: true}
}

// Known reports whether the roster read succeeded. When false, every other
// query answers from an empty set and the caller must treat membership and
// submission facts as unknown, not absent.
func (r Roster) Known() bool { return r.known }

// Err returns the read failure behind an unknown roster, nil otherwise.
func (r Roster) Err() error { return r.err }

// Players returns the resolved player records.
func (r Roster) Players() []rooms.Player { return r.players }

// Size returns the number of resolved players.
func (r Roster) Size() int { return len(r.players) }

// IsMember reports whether addr is on the roster.
func (r Roster) IsMember(addr string) bool {
	if addr == "" {
		return false
	}
	for _, p := range r.players {
		if p.Address == addr {
			return true
		}
	}
	return false
}

// HasSubmitted reports whether addr has a recorded score submission.
func (r Roster) HasSubmitted(addr string) bool {
	for _, p := range r.players {
		if p.Address == addr {
			return p.HasSubmitted
		}
	}
	return false
}

// AllSubmitted reports whether every resolved player has submitted. False
// for an unknown or empty roster: absence of players is never evidence that
// the match finished.
func (r Roster) AllSubmitted() bool {
	if !r.known || len(r.players) == 0 {
		return false
	}
	for _, p := range r.players {
		if !p.HasSubmitted {
			return false
		}
	}
	return true
}

// SubmittedCount returns how many resolved players have submitted.
func (r Roster) SubmittedCount() int {
	n := 0
	for _, p := range r.players {
		if p.HasSubmitted {
			n++
		}
	}
	return n
}

// Addresses returns the roster's addresses in resolved order.
func (r Roster) Addresses() []string {
	out := make([]string, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p.Address)
	}
	return out
}
