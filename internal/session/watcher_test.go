package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dropps07/GG-Monad/internal/rooms"
)

// scriptedReader serves an active room until completeAfter reads have
// happened, then reports it completed.
type scriptedReader struct {
	mu            sync.Mutex
	reads         int
	completeAfter int
	failFirst     int
	winner        string
}

func (s *scriptedReader) GetRoom(ctx context.Context, roomID int64) (rooms.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.reads <= s.failFirst {
		return rooms.Room{}, errors.New("read failed")
	}
	room := rooms.Room{
		ID:             roomID,
		EntryFee:       50,
		MaxPlayers:     2,
		CurrentPlayers: 2,
		Status:         rooms.StatusActive,
	}
	if s.completeAfter > 0 && s.reads > s.completeAfter {
		room.Status = rooms.StatusCompleted
		room.Winner = s.winner
	}
	return room, nil
}

func (s *scriptedReader) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func collectUntilCompleted(t *testing.T, ch <-chan RoomUpdate, within time.Duration) RoomUpdate {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case u := <-ch:
			if u.Completed {
				return u
			}
		case <-deadline:
			t.Fatal("no completion update within deadline")
		}
	}
}

func TestWatcher_NotifiesOnCompletion(t *testing.T) {
	reader := &scriptedReader{completeAfter: 2, winner: "0xaaa"}
	w := NewWatcher(reader, 5*time.Millisecond, time.Second, nil)

	ch, unsub := w.Subscribe(7)
	defer unsub()

	w.Watch(context.Background(), 7)
	update := collectUntilCompleted(t, ch, 2*time.Second)

	assert.Equal(t, int64(7), update.RoomID)
	assert.Equal(t, rooms.StatusCompleted, update.Room.Status)
	assert.Equal(t, "0xaaa", update.Room.Winner)

	// The loop retires itself once the room is terminal.
	assert.Eventually(t, func() bool { return !w.Watching(7) }, time.Second, 5*time.Millisecond)
}

func TestWatcher_SingleLoopPerRoom(t *testing.T) {
	reader := &scriptedReader{completeAfter: 4, winner: "0xaaa"}
	w := NewWatcher(reader, 5*time.Millisecond, time.Second, nil)

	ch, unsub := w.Subscribe(7)
	defer unsub()

	// Restarting the watch for the same room replaces the first loop.
	w.Watch(context.Background(), 7)
	w.Watch(context.Background(), 7)
	assert.Equal(t, 1, w.ActiveCount())

	first := collectUntilCompleted(t, ch, 2*time.Second)
	assert.True(t, first.Completed)

	// No second completion notification arrives.
	select {
	case u := <-ch:
		if u.Completed {
			t.Fatal("duplicate completion notification")
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatcher_TimeoutIsSilent(t *testing.T) {
	reader := &scriptedReader{} // never completes
	w := NewWatcher(reader, 5*time.Millisecond, 40*time.Millisecond, nil)

	ch, unsub := w.Subscribe(7)
	defer unsub()

	w.Watch(context.Background(), 7)
	assert.Eventually(t, func() bool { return !w.Watching(7) }, time.Second, 5*time.Millisecond)

	// Interim updates are fine; a completion notification is not.
	for {
		select {
		case u := <-ch:
			assert.False(t, u.Completed)
		default:
			return
		}
	}
}

func TestWatcher_CancelStopsLoop(t *testing.T) {
	reader := &scriptedReader{}
	w := NewWatcher(reader, 5*time.Millisecond, time.Minute, nil)

	w.Watch(context.Background(), 7)
	assert.True(t, w.Watching(7))

	w.Cancel(7)
	assert.False(t, w.Watching(7))

	reads := reader.readCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, reads, reader.readCount(), "loop kept polling after cancel")
}

func TestWatcher_StopAll(t *testing.T) {
	reader := &scriptedReader{}
	w := NewWatcher(reader, 5*time.Millisecond, time.Minute, nil)

	w.Watch(context.Background(), 1)
	w.Watch(context.Background(), 2)
	w.Watch(context.Background(), 3)
	assert.Equal(t, 3, w.ActiveCount())

	w.StopAll()
	assert.Equal(t, 0, w.ActiveCount())
}

func TestWatcher_SkipsTransientReadFailures(t *testing.T) {
	reader := &scriptedReader{failFirst: 2, completeAfter: 3, winner: "0xbbb"}
	w := NewWatcher(reader, 5*time.Millisecond, time.Second, nil)

	ch, unsub := w.Subscribe(7)
	defer unsub()

	w.Watch(context.Background(), 7)
	update := collectUntilCompleted(t, ch, 2*time.Second)
	assert.Equal(t, "0xbbb", update.Room.Winner)
}

func TestWatcher_SubscribeAll(t *testing.T) {
	reader := &scriptedReader{completeAfter: 1, winner: "0xaaa"}
	w := NewWatcher(reader, 5*time.Millisecond, time.Second, nil)

	ch, unsub := w.SubscribeAll()
	defer unsub()

	w.Watch(context.Background(), 9)
	update := collectUntilCompleted(t, ch, 2*time.Second)
	assert.Equal(t, int64(9), update.RoomID)
}
