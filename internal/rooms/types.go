package rooms

import (
	"fmt"
	"time"
)

// --- Status ---

// Status is a room's lifecycle state as reported by the ledger.
type Status string

const (
	StatusFilling   Status = "filling"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
	StatusCanceled  Status = "canceled"
)

// ParseStatus converts a wire status string into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusFilling, StatusActive, StatusCompleted, StatusExpired, StatusCanceled:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown room status %q", s)
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusCanceled:
		return true
	}
	return false
}

// Display returns the user-facing label for the status.
func (s Status) Display() string {
	switch s {
	case StatusFilling:
		return "Filling"
	case StatusActive:
		return "Active"
	case StatusCompleted:
		return "Completed"
	case StatusExpired:
		return "Expired"
	case StatusCanceled:
		return "Canceled"
	}
	return string(s)
}

// --- Game type ---

// GameType identifies which mini-game a room plays. The engine treats both
// as black boxes that yield one non-negative integer score per play.
type GameType string

const (
	GameArcade   GameType = "arcade"
	GameChatDuel GameType = "chat_duel"
)

// ParseGameType converts a wire game-type string into a GameType.
func ParseGameType(s string) (GameType, error) {
	switch GameType(s) {
	case GameArcade, GameChatDuel:
		return GameType(s), nil
	}
	return "", fmt.Errorf("unknown game type %q", s)
}

// Display returns the user-facing label for the game type.
func (g GameType) Display() string {
	switch g {
	case GameArcade:
		return "Arcade"
	case GameChatDuel:
		return "Chat Duel"
	}
	return string(g)
}

// --- Visibility ---

// Visibility controls who may discover and join a room.
type Visibility string

const (
	VisibilityPublic     Visibility = "public"
	VisibilityPrivate    Visibility = "private"
	VisibilityTournament Visibility = "tournament"
)

// ParseVisibility converts a wire visibility string into a Visibility.
func ParseVisibility(s string) (Visibility, error) {
	switch Visibility(s) {
	case VisibilityPublic, VisibilityPrivate, VisibilityTournament:
		return Visibility(s), nil
	}
	return "", fmt.Errorf("unknown room visibility %q", s)
}

// --- Room ---

// Room is one match instance as read from the ledger. The ledger owns every
// field; the engine requests mutations and re-reads, it never writes locally.
type Room struct {
	ID             int64      `json:"id"`
	Creator        string     `json:"creator"`
	EntryFee       int64      `json:"entryFee"`
	MaxPlayers     int        `json:"maxPlayers"`
	CurrentPlayers int        `json:"currentPlayers"`
	GameType       GameType   `json:"gameType"`
	Visibility     Visibility `json:"visibility"`
	Status         Status     `json:"status"`
	PrizePool      int64      `json:"prizePool"`
	Winner         string     `json:"winner,omitempty"`
	PrizeClaimed   bool       `json:"prizeClaimed"`
	CreationTime   time.Time  `json:"creationTime"`
	ExpirationTime time.Time  `json:"expirationTime"`
}

// IsFull reports whether the roster has reached capacity.
func (r *Room) IsFull() bool {
	return r.CurrentPlayers >= r.MaxPlayers
}

// Joinable reports whether a join attempt could succeed right now.
// The ledger still has the final word; this is the client-side prediction.
func (r *Room) Joinable() bool {
	return r.Status == StatusFilling && !r.IsFull()
}

// CancelableBy reports whether addr may cancel the room.
func (r *Room) CancelableBy(addr string) bool {
	return r.Status == StatusFilling && addr != "" && addr == r.Creator
}

// IsWinner reports whether addr is the recorded winner. Always false until
// the ledger sets a winner at completion.
func (r *Room) IsWinner(addr string) bool {
	return r.Winner != "" && addr == r.Winner
}

// --- Player ---

// Player is one player-in-room record. Score is meaningful only once
// HasSubmitted is true.
type Player struct {
	Address      string `json:"address"`
	HasSubmitted bool   `json:"hasSubmitted"`
	Score        int64  `json:"score"`
}
