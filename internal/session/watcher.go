package session

import (
	"context"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/dropps07/GG-Monad/internal/rooms"
)

// RoomUpdate is one observation pushed by the completion watcher. Completed
// is true exactly once per watch, on the tick that first sees the room in
// its completed state.
type RoomUpdate struct {
	RoomID    int64
	Room      rooms.Room
	Completed bool
	At        time.Time
}

// RoomReader is the single ledger read the watcher depends on.
type RoomReader interface {
	GetRoom(ctx context.Context, roomID int64) (rooms.Room, error)
}

type watchHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Watcher polls rooms after an accepted submission until they complete or a
// bounded timeout elapses. At most one poll loop runs per room: starting a
// watch for a room that is already being watched replaces the old loop, so
// a completion is never notified twice. A timeout is a silent give-up, the
// room may still complete later and the next explicit read will see it.
type Watcher struct {
	log      slog.Logger
	reader   RoomReader
	interval time.Duration
	timeout  time.Duration

	mu    sync.Mutex
	loops map[int64]*watchHandle
	subs  map[int64]map[chan RoomUpdate]struct{}
	all   map[chan RoomUpdate]struct{}
}

// NewWatcher creates a Watcher polling every interval with the given
// per-watch timeout. Zero values fall back to 5s and 2m.
func NewWatcher(reader RoomReader, interval, timeout time.Duration, log slog.Logger) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if log == nil {
		log = slog.Disabled
	}
	return &Watcher{
		log:      log,
		reader:   reader,
		interval: interval,
		timeout:  timeout,
		loops:    make(map[int64]*watchHandle),
		subs:     make(map[int64]map[chan RoomUpdate]struct{}),
		all:      make(map[chan RoomUpdate]struct{}),
	}
}

// Watch starts a poll loop for roomID, replacing and canceling any loop
// already running for the same room.
func (w *Watcher) Watch(ctx context.Context, roomID int64) {
	wctx, cancel := context.WithTimeout(ctx, w.timeout)
	handle := &watchHandle{cancel: cancel, done: make(chan struct{})}

	w.mu.Lock()
	prev := w.loops[roomID]
	w.loops[roomID] = handle
	w.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
		w.log.Debugf("watcher: restarted loop for room %d", roomID)
	}

	go w.run(wctx, roomID, handle)
}

// Cancel stops the poll loop for roomID, if one is running.
func (w *Watcher) Cancel(roomID int64) {
	w.mu.Lock()
	handle := w.loops[roomID]
	w.mu.Unlock()
	if handle != nil {
		handle.cancel()
		<-handle.done
	}
}

// StopAll cancels every active poll loop. Used on session reset and client
// shutdown so no loop outlives its owner.
func (w *Watcher) StopAll() {
	w.mu.Lock()
	handles := make([]*watchHandle, 0, len(w.loops))
	for _, h := range w.loops {
		handles = append(handles, h)
	}
	w.mu.Unlock()
	for _, h := range handles {
		h.cancel()
		<-h.done
	}
}

// Watching reports whether a poll loop is currently active for roomID.
func (w *Watcher) Watching(roomID int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loops[roomID] != nil
}

// ActiveCount returns the number of active poll loops.
func (w *Watcher) ActiveCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.loops)
}

func (w *Watcher) run(ctx context.Context, roomID int64, handle *watchHandle) {
	w.log.Debugf("watcher: started loop for room %d", roomID)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	defer close(handle.done)
	defer func() {
		handle.cancel()
		w.mu.Lock()
		if w.loops[roomID] == handle {
			delete(w.loops, roomID)
		}
		w.mu.Unlock()
		w.log.Debugf("watcher: stopped loop for room %d", roomID)
	}()

	for {
		select {
		case <-ctx.Done():
			// Timeout or cancellation. No notification: the room may
			// still complete later and a fresh read will see it.
			return
		case <-t.C:
			if done := w.pollOnce(ctx, roomID); done {
				return
			}
		}
	}
}

// pollOnce reads the room and broadcasts the observation. Returns true when
// the loop should stop because a terminal state was observed.
func (w *Watcher) pollOnce(ctx context.Context, roomID int64) bool {
	room, err := w.reader.GetRoom(ctx, roomID)
	if err != nil {
		// Transient reads are skipped, never terminal for the loop.
		w.log.Debugf("watcher: poll for room %d failed: %v", roomID, err)
		return false
	}

	update := RoomUpdate{
		RoomID:    roomID,
		Room:      room,
		Completed: room.Status == rooms.StatusCompleted,
		At:        time.Now(),
	}
	w.broadcast(roomID, update)

	if room.Status.Terminal() {
		if update.Completed {
			w.log.Infof("watcher: room %d completed, winner %s", roomID, room.Winner)
		} else {
			w.log.Infof("watcher: room %d reached terminal state %s", roomID, room.Status)
		}
		return true
	}
	return false
}

// Subscribe adds a listener for one room's updates and returns the channel
// plus its unsubscribe. No initial snapshot is sent; first data arrives on
// the next poll tick.
func (w *Watcher) Subscribe(roomID int64) (<-chan RoomUpdate, func()) {
	ch := make(chan RoomUpdate, 8)

	w.mu.Lock()
	if _, ok := w.subs[roomID]; !ok {
		w.subs[roomID] = make(map[chan RoomUpdate]struct{})
	}
	w.subs[roomID][ch] = struct{}{}
	w.mu.Unlock()

	unsub := func() {
		w.mu.Lock()
		if set, ok := w.subs[roomID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(w.subs, roomID)
			}
		}
		w.mu.Unlock()
		// Do not close(ch): a broadcast may still be in flight.
	}
	return ch, unsub
}

// SubscribeAll adds a listener for every room's updates.
func (w *Watcher) SubscribeAll() (<-chan RoomUpdate, func()) {
	ch := make(chan RoomUpdate, 16)

	w.mu.Lock()
	w.all[ch] = struct{}{}
	w.mu.Unlock()

	unsub := func() {
		w.mu.Lock()
		delete(w.all, ch)
		w.mu.Unlock()
	}
	return ch, unsub
}

// broadcast snapshots subscribers, then best-effort sends without blocking.
func (w *Watcher) broadcast(roomID int64, u RoomUpdate) {
	w.mu.Lock()
	chs := make([]chan RoomUpdate, 0, len(w.subs[roomID])+len(w.all))
	for ch := range w.subs[roomID] {
		chs = append(chs, ch)
	}
	for ch := range w.all {
		chs = append(chs, ch)
	}
	w.mu.Unlock()

	for _, ch := range chs {
		select {
		case ch <- u:
		default:
			// Drop if receiver is slow.
		}
	}
}
