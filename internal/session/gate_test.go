package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dropps07/GG-Monad/internal/rooms"
)

// gateLedger is a scriptable GateLedger that counts mutating calls.
type gateLedger struct {
	mu          sync.Mutex
	room        rooms.Room
	roomErr     error
	players     []rooms.Player
	playersErr  error
	submitErr   error
	submitCalls int
}

func (g *gateLedger) GetRoom(ctx context.Context, roomID int64) (rooms.Room, error) {
	return g.room, g.roomErr
}

func (g *gateLedger) GetPlayers(ctx context.Context, roomID int64) ([]rooms.Player, error) {
	return g.players, g.playersErr
}

func (g *gateLedger) SubmitScore(ctx context.Context, roomID int64, score int64) error {
	g.mu.Lock()
	g.submitCalls++
	g.mu.Unlock()
	return g.submitErr
}

func activeRoom(id int64) rooms.Room {
	return rooms.Room{
		ID:             id,
		Creator:        "0xaaa",
		EntryFee:       50,
		MaxPlayers:     2,
		CurrentPlayers: 2,
		Status:         rooms.StatusActive,
	}
}

func TestGate_RejectsFillingRoom(t *testing.T) {
	led := &gateLedger{room: rooms.Room{
		ID:             7,
		MaxPlayers:     2,
		CurrentPlayers: 1,
		Status:         rooms.StatusFilling,
	}}
	gate := NewGate(led, nil)

	err := gate.TrySubmit(context.Background(), 7, "0xaaa", 100)

	assert.True(t, IsStatusRejection(err))
	assert.Contains(t, err.Error(), "Filling")
	assert.Equal(t, 0, led.submitCalls)
}

func TestGate_RejectsTerminalRoom(t *testing.T) {
	for _, status := range []rooms.Status{rooms.StatusCompleted, rooms.StatusExpired, rooms.StatusCanceled} {
		led := &gateLedger{room: rooms.Room{ID: 7, Status: status}}
		gate := NewGate(led, nil)

		err := gate.TrySubmit(context.Background(), 7, "0xaaa", 100)

		assert.True(t, IsStatusRejection(err), "status %s", status)
		assert.NotContains(t, err.Error(), "Filling")
		assert.Equal(t, 0, led.submitCalls)
	}
}

func TestGate_RejectsNonMember(t *testing.T) {
	led := &gateLedger{
		room:    activeRoom(7),
		players: []rooms.Player{{Address: "0xaaa"}, {Address: "0xbbb"}},
	}
	gate := NewGate(led, nil)

	err := gate.TrySubmit(context.Background(), 7, "0xccc", 100)

	assert.True(t, IsNotPlayer(err))
	assert.Equal(t, 0, led.submitCalls)
}

func TestGate_RejectsRepeatSubmission(t *testing.T) {
	led := &gateLedger{
		room: activeRoom(7),
		players: []rooms.Player{
			{Address: "0xaaa", HasSubmitted: true, Score: 40},
			{Address: "0xbbb"},
		},
	}
	gate := NewGate(led, nil)

	err := gate.TrySubmit(context.Background(), 7, "0xaaa", 100)

	assert.True(t, IsAlreadySubmitted(err))
	assert.Equal(t, 0, led.submitCalls)
}

func TestGate_RejectsUnknownRoster(t *testing.T) {
	led := &gateLedger{
		room:       activeRoom(7),
		playersErr: errors.New("timeout"),
	}
	gate := NewGate(led, nil)

	err := gate.TrySubmit(context.Background(), 7, "0xaaa", 100)

	// Membership could not be checked, so nothing must reach the ledger.
	assert.True(t, IsRosterUnknown(err))
	assert.False(t, IsNotPlayer(err))
	assert.Equal(t, 0, led.submitCalls)
}

func TestGate_AcceptsAndWrites(t *testing.T) {
	led := &gateLedger{
		room:    activeRoom(7),
		players: []rooms.Player{{Address: "0xaaa"}, {Address: "0xbbb"}},
	}
	gate := NewGate(led, nil)

	err := gate.TrySubmit(context.Background(), 7, "0xaaa", 100)

	assert.NoError(t, err)
	assert.Equal(t, 1, led.submitCalls)
}

func TestGate_PropagatesRoomReadFailure(t *testing.T) {
	led := &gateLedger{roomErr: errors.New("gateway timeout")}
	gate := NewGate(led, nil)

	err := gate.TrySubmit(context.Background(), 7, "0xaaa", 100)

	assert.Error(t, err)
	assert.False(t, IsStatusRejection(err))
	assert.Equal(t, 0, led.submitCalls)
}

// Every rejection path must leave the ledger untouched.
func TestGate_NoWriteOnAnyRejection(t *testing.T) {
	cases := []struct {
		name string
		led  *gateLedger
		addr string
	}{
		{"filling", &gateLedger{room: rooms.Room{ID: 7, MaxPlayers: 2, CurrentPlayers: 1, Status: rooms.StatusFilling}}, "0xaaa"},
		{"completed", &gateLedger{room: rooms.Room{ID: 7, Status: rooms.StatusCompleted}}, "0xaaa"},
		{"not_member", &gateLedger{room: activeRoom(7), players: []rooms.Player{{Address: "0xbbb"}}}, "0xaaa"},
		{"already_submitted", &gateLedger{room: activeRoom(7), players: []rooms.Player{{Address: "0xaaa", HasSubmitted: true}}}, "0xaaa"},
		{"roster_unreadable", &gateLedger{room: activeRoom(7), playersErr: errors.New("boom")}, "0xaaa"},
		{"room_unreadable", &gateLedger{roomErr: errors.New("boom")}, "0xaaa"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gate := NewGate(tc.led, nil)
			err := gate.TrySubmit(context.Background(), 7, tc.addr, 100)
			assert.Error(t, err)
			assert.Equal(t, 0, tc.led.submitCalls)
		})
	}
}
