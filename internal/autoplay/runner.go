package autoplay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/dropps07/GG-Monad/internal/rooms"
	"github.com/dropps07/GG-Monad/internal/session"
)

// State represents the runner's lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateError   State = "error"
)

// Session is the engine surface a strategy plays through. Every action
// passes the same validation the interactive client uses; the runner gets
// no shortcut around the submission gate.
type Session interface {
	Observe(ctx context.Context, roomID int64) (session.Snapshot, error)
	Join(ctx context.Context, roomID int64, inviteCode string) (session.Snapshot, error)
	SubmitScore(ctx context.Context, roomID int64, score int64) (session.Snapshot, error)
	ClaimPrize(ctx context.Context, roomID int64) (session.Snapshot, error)
}

// RoomLister enumerates candidate rooms for the strategy.
type RoomLister interface {
	ListFilling(ctx context.Context, limit int) ([]rooms.Room, error)
}

// EventEmitter allows the runner to push state updates to a consumer.
type EventEmitter interface {
	EmitAutoplayState(snap RunnerSnapshot)
	EmitAutoplayLog(entries []LogEntry)
}

// RunnerSnapshot is a serializable snapshot of the runner state.
type RunnerSnapshot struct {
	State           State  `json:"state"`
	Error           string `json:"error,omitempty"`
	CurrentRoom     int64  `json:"currentRoom,omitempty"`
	MatchesJoined   int    `json:"matchesJoined"`
	ScoresSubmitted int    `json:"scoresSubmitted"`
	Wins            int    `json:"wins"`
	PointsStaked    int64  `json:"pointsStaked"`
	PointsWon       int64  `json:"pointsWon"`
	LastScore       *int64 `json:"lastScore,omitempty"`
}

// Config tunes a Runner.
type Config struct {
	Session Session
	Lister  RoomLister
	Emitter EventEmitter

	// CommissionBps feeds the prize figures handed to the strategy.
	// Defaults to rooms.DefaultCommissionBps if zero.
	CommissionBps int64

	// ScanInterval is the pause between room-list scans when nothing was
	// joinable. Defaults to 5s.
	ScanInterval time.Duration

	// ScanLimit caps how many filling rooms one scan offers the strategy.
	// Defaults to 10.
	ScanLimit int

	// PollInterval is the pause between observations while waiting for a
	// room to activate or settle. Defaults to 2s.
	PollInterval time.Duration

	// MatchTimeout bounds how long the runner waits on one room before
	// abandoning it and rescanning. Defaults to 2m.
	MatchTimeout time.Duration

	// MaxMatches stops the runner after this many submitted scores.
	// Zero means no limit.
	MaxMatches int

	// AutoClaim claims the prize whenever a watched room settles in the
	// runner's favor.
	AutoClaim bool

	Log slog.Logger
}

// Runner drives a strategy script through the match lifecycle: scan filling
// rooms, join one the script likes, wait for activation, submit the script's
// score, and watch settlement.
type Runner struct {
	mu     sync.RWMutex
	state  State
	err    error
	cancel context.CancelFunc
	done   chan struct{}

	vm   *VM
	snap RunnerSnapshot

	cfg Config
	log slog.Logger
}

// NewRunner creates a runner with the given configuration.
func NewRunner(cfg Config) *Runner {
	if cfg.CommissionBps <= 0 {
		cfg.CommissionBps = rooms.DefaultCommissionBps
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 5 * time.Second
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MatchTimeout <= 0 {
		cfg.MatchTimeout = 2 * time.Minute
	}
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	return &Runner{
		state: StateIdle,
		cfg:   cfg,
		log:   log,
		snap:  RunnerSnapshot{State: StateIdle},
	}
}

// Start executes the strategy source and begins the play loop.
func (r *Runner) Start(script string) error {
	r.mu.Lock()
	if r.state == StateRunning {
		r.mu.Unlock()
		return fmt.Errorf("autoplay: runner is already running")
	}

	r.vm = NewVM()
	r.state = StateRunning
	r.err = nil
	r.snap = RunnerSnapshot{State: StateRunning}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	if err := r.vm.Execute(script); err != nil {
		r.setError(err)
		cancel()
		close(r.done)
		return err
	}

	r.emitState()
	go r.playLoop(ctx)
	return nil
}

// Stop cancels the play loop and waits for it to exit.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return fmt.Errorf("autoplay: runner is not running")
	}
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	<-done
	return nil
}

// GetState returns the current runner snapshot.
func (r *Runner) GetState() RunnerSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// GetLogs returns the strategy's log buffer.
func (r *Runner) GetLogs() []LogEntry {
	r.mu.RLock()
	vm := r.vm
	r.mu.RUnlock()
	if vm == nil {
		return nil
	}
	return vm.GetLogs()
}

func (r *Runner) playLoop(ctx context.Context) {
	defer close(r.done)
	defer func() {
		if rec := recover(); rec != nil {
			r.setError(fmt.Errorf("autoplay: strategy panic: %v", rec))
		}
	}()

	for {
		if ctx.Err() != nil || r.vm.IsStopRequested() {
			r.setStopped()
			return
		}
		if max := r.cfg.MaxMatches; max > 0 {
			r.mu.RLock()
			submitted := r.snap.ScoresSubmitted
			r.mu.RUnlock()
			if submitted >= max {
				r.log.Infof("autoplay: reached %d matches, stopping", max)
				r.setStopped()
				return
			}
		}

		room, joined := r.scanAndJoin(ctx)
		if !joined {
			if !r.sleep(ctx, r.cfg.ScanInterval) {
				r.setStopped()
				return
			}
			continue
		}

		if err := r.playMatch(ctx, room); err != nil {
			if ctx.Err() != nil {
				r.setStopped()
				return
			}
			r.setError(err)
			return
		}
	}
}

// scanAndJoin lists filling rooms and joins the first one the strategy
// accepts. Ledger rejections on join (someone filled the room first) are
// logged and skipped, not fatal.
func (r *Runner) scanAndJoin(ctx context.Context) (rooms.Room, bool) {
	candidates, err := r.cfg.Lister.ListFilling(ctx, r.cfg.ScanLimit)
	if err != nil {
		r.log.Warnf("autoplay: room scan failed: %v", err)
		return rooms.Room{}, false
	}

	for _, room := range candidates {
		if ctx.Err() != nil || r.vm.IsStopRequested() {
			return rooms.Room{}, false
		}
		// Strategies cannot supply invite codes, so private rooms are
		// not candidates.
		if room.Visibility == rooms.VisibilityPrivate {
			continue
		}

		prize := rooms.ComputePrize(room.EntryFee, room.MaxPlayers, r.cfg.CommissionBps)
		join, err := r.vm.CallShouldJoin(room, prize)
		if err != nil {
			r.log.Warnf("autoplay: shouldJoin for room %d failed: %v", room.ID, err)
			continue
		}
		if !join {
			continue
		}

		if _, err := r.cfg.Session.Join(ctx, room.ID, ""); err != nil {
			r.log.Warnf("autoplay: join room %d rejected: %v", room.ID, err)
			continue
		}
		r.log.Infof("autoplay: joined room %d (fee %d, %d players)", room.ID, room.EntryFee, room.MaxPlayers)

		r.mu.Lock()
		r.snap.MatchesJoined++
		r.snap.CurrentRoom = room.ID
		r.snap.PointsStaked += room.EntryFee
		r.mu.Unlock()
		r.emitState()
		return room, true
	}
	return rooms.Room{}, false
}

// playMatch waits for the joined room to activate, submits the strategy's
// score, and waits for settlement. A room that never activates or settles
// within the match timeout is abandoned; the next scan moves on.
func (r *Runner) playMatch(ctx context.Context, room rooms.Room) error {
	deadline := time.Now().Add(r.cfg.MatchTimeout)

	// Wait for activation.
	for {
		if time.Now().After(deadline) {
			r.log.Infof("autoplay: room %d never activated, abandoning", room.ID)
			r.clearCurrentRoom()
			return nil
		}
		snap, err := r.cfg.Session.Observe(ctx, room.ID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Debugf("autoplay: observe room %d failed: %v", room.ID, err)
		} else {
			if snap.Room.Status.Terminal() {
				r.log.Infof("autoplay: room %d ended %s before play", room.ID, snap.Room.Status)
				r.clearCurrentRoom()
				return nil
			}
			if snap.Action == session.ActionPlay {
				break
			}
		}
		if !r.sleep(ctx, r.cfg.PollInterval) {
			return ctx.Err()
		}
	}

	// Produce and submit the score.
	prize := rooms.ComputePrize(room.EntryFee, room.MaxPlayers, r.cfg.CommissionBps)
	score, err := r.vm.CallPlay(room, prize)
	if err != nil {
		return fmt.Errorf("autoplay: play for room %d: %w", room.ID, err)
	}
	if _, err := r.cfg.Session.SubmitScore(ctx, room.ID, score); err != nil {
		if session.IsAlreadySubmitted(err) {
			r.log.Debugf("autoplay: room %d already has our score", room.ID)
		} else {
			return fmt.Errorf("autoplay: submit for room %d: %w", room.ID, err)
		}
	}
	r.log.Infof("autoplay: submitted score %d to room %d", score, room.ID)

	r.mu.Lock()
	r.snap.ScoresSubmitted++
	s := score
	r.snap.LastScore = &s
	r.mu.Unlock()
	r.emitState()

	// Wait for settlement.
	for {
		if time.Now().After(deadline) {
			r.log.Infof("autoplay: room %d did not settle in time, moving on", room.ID)
			r.clearCurrentRoom()
			return nil
		}
		if !r.sleep(ctx, r.cfg.PollInterval) {
			return ctx.Err()
		}
		snap, err := r.cfg.Session.Observe(ctx, room.ID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Debugf("autoplay: observe room %d failed: %v", room.ID, err)
			continue
		}
		if !snap.Room.Status.Terminal() {
			continue
		}
		r.settle(ctx, snap)
		return nil
	}
}

func (r *Runner) settle(ctx context.Context, snap session.Snapshot) {
	won := snap.Result != nil && snap.Result.IsWinner
	r.mu.Lock()
	if won {
		r.snap.Wins++
		r.snap.PointsWon += snap.Prize.NetPrize
	}
	r.snap.CurrentRoom = 0
	r.mu.Unlock()

	if won {
		r.log.Infof("autoplay: won room %d, net prize %d", snap.Room.ID, snap.Prize.NetPrize)
		if r.cfg.AutoClaim && !snap.Result.Claimed {
			if _, err := r.cfg.Session.ClaimPrize(ctx, snap.Room.ID); err != nil {
				r.log.Warnf("autoplay: claim for room %d failed: %v", snap.Room.ID, err)
			} else {
				r.log.Infof("autoplay: claimed prize for room %d", snap.Room.ID)
			}
		}
	} else {
		r.log.Infof("autoplay: room %d settled, winner %s", snap.Room.ID, snap.Room.Winner)
	}
	r.emitState()
	r.emitLogs()
}

func (r *Runner) clearCurrentRoom() {
	r.mu.Lock()
	r.snap.CurrentRoom = 0
	r.mu.Unlock()
	r.emitState()
}

// sleep waits for d or until ctx is canceled. Returns false on cancellation.
func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (r *Runner) setStopped() {
	r.mu.Lock()
	if r.state == StateRunning {
		r.state = StateStopped
	}
	r.snap.State = r.state
	r.snap.CurrentRoom = 0
	r.mu.Unlock()
	r.emitState()
	r.emitLogs()
}

func (r *Runner) setError(err error) {
	r.log.Errorf("autoplay: %v", err)
	r.mu.Lock()
	r.state = StateError
	r.err = err
	r.snap.State = StateError
	r.snap.Error = err.Error()
	r.mu.Unlock()
	r.emitState()
	r.emitLogs()
}

func (r *Runner) emitState() {
	if r.cfg.Emitter == nil {
		return
	}
	r.mu.RLock()
	snap := r.snap
	snap.State = r.state
	r.mu.RUnlock()
	r.cfg.Emitter.EmitAutoplayState(snap)
}

func (r *Runner) emitLogs() {
	if r.cfg.Emitter == nil || r.vm == nil {
		return
	}
	if logs := r.vm.GetLogs(); len(logs) > 0 {
		r.cfg.Emitter.EmitAutoplayLog(logs)
	}
}
