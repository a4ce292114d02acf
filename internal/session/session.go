// Package session holds the client-side match lifecycle engine: the score
// submission gate, the roster resolver, the completion watcher, and the
// reconciler that derives one player's view of one room from fresh ledger
// reads.
//
// The ledger is the only authority. Every mutating call here re-validates
// its preconditions against a fresh read immediately before writing, and
// every mutation is followed by a fresh read before the caller sees a new
// state. Local bookkeeping is advisory, with one exception: the played
// marker, which is monotonic per room for the lifetime of the session.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/dropps07/GG-Monad/internal/ledger"
	"github.com/dropps07/GG-Monad/internal/rooms"
)

// Ledger is the full consumer surface the session engine drives.
type Ledger interface {
	CreateRoom(ctx context.Context, req ledger.CreateRoomRequest) (int64, error)
	JoinRoom(ctx context.Context, roomID int64, inviteCode string) error
	SubmitScore(ctx context.Context, roomID int64, score int64) error
	ClaimPrize(ctx context.Context, roomID int64) error
	CancelRoom(ctx context.Context, roomID int64) error
	GetRoom(ctx context.Context, roomID int64) (rooms.Room, error)
	GetPlayers(ctx context.Context, roomID int64) ([]rooms.Player, error)
	PlayerBalance(ctx context.Context, address string) (ledger.Balance, error)
}

// Action is the single user action a snapshot makes available.
type Action string

const (
	ActionJoin     Action = "join"
	ActionWait     Action = "wait"
	ActionPlay     Action = "play"
	ActionSpectate Action = "spectate"
	ActionClaim    Action = "claim"
	ActionNone     Action = "none"
)

// Result is the settled outcome of a completed room, from the observing
// player's point of view.
type Result struct {
	Winner   string      `json:"winner"`
	IsWinner bool        `json:"isWinner"`
	Claimed  bool        `json:"claimed"`
	Prize    rooms.Prize `json:"prize"`
	Display  string      `json:"display"`
}

// Snapshot is one immutable observation of one room for one player,
// recomputed in full from a fresh (room, roster, address) read. It is never
// patched incrementally and never authoritative for settlement.
type Snapshot struct {
	Room         rooms.Room     `json:"room"`
	Players      []rooms.Player `json:"players"`
	RosterKnown  bool           `json:"rosterKnown"`
	Address      string         `json:"address"`
	IsCreator    bool           `json:"isCreator"`
	IsMember     bool           `json:"isMember"`
	HasSubmitted bool           `json:"hasSubmitted"`
	HasPlayed    bool           `json:"hasPlayed"`
	Action       Action         `json:"action"`
	StatusLine   string         `json:"statusLine"`
	Prize        rooms.Prize    `json:"prize"`
	Result       *Result        `json:"result,omitempty"`
	ObservedAt   time.Time      `json:"observedAt"`
}

// Config holds the dependencies and tuning for a session Module.
type Config struct {
	Ledger  Ledger
	Address string

	// CommissionBps is the platform cut used for prize display.
	// Defaults to rooms.DefaultCommissionBps if zero.
	CommissionBps int64

	// WatchInterval and WatchTimeout tune the completion watcher.
	// Zero values fall back to 5s and 2m.
	WatchInterval time.Duration
	WatchTimeout  time.Duration

	Log slog.Logger
}

// Module is the per-player session engine. One Module serves one player
// address against one ledger; its played markers live exactly as long as
// the Module unless Reset is called.
type Module struct {
	ledger        Ledger
	address       string
	commissionBps int64
	gate          *Gate
	watcher       *Watcher
	log           slog.Logger

	mu     sync.Mutex
	played map[int64]bool
}

// New creates a session Module.
func New(cfg Config) *Module {
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	bps := cfg.CommissionBps
	if bps <= 0 {
		bps = rooms.DefaultCommissionBps
	}
	return &Module{
		ledger:        cfg.Ledger,
		address:       cfg.Address,
		commissionBps: bps,
		gate:          NewGate(cfg.Ledger, log),
		watcher:       NewWatcher(cfg.Ledger, cfg.WatchInterval, cfg.WatchTimeout, log),
		log:           log,
		played:        make(map[int64]bool),
	}
}

// Address returns the player address this session acts as.
func (m *Module) Address() string { return m.address }

// Watcher returns the completion watcher, for callers that subscribe to
// room updates.
func (m *Module) Watcher() *Watcher { return m.watcher }

// HasPlayed reports the monotonic played marker for roomID.
func (m *Module) HasPlayed(roomID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.played[roomID]
}

// Reset clears all played markers and stops every active watcher. This is
// the only way a played marker reverts within a process lifetime.
func (m *Module) Reset() {
	m.watcher.StopAll()
	m.mu.Lock()
	m.played = make(map[int64]bool)
	m.mu.Unlock()
	m.log.Infof("session reset for %s", m.address)
}

// Close releases the Module's background work.
func (m *Module) Close() {
	m.watcher.StopAll()
}

// --- Observation ---

// Observe reads the room and roster fresh and derives the player's view.
// Status, membership, and submission facts always come from this read,
// never from cached state; only the played marker merges with (and feeds)
// the session's monotonic record.
func (m *Module) Observe(ctx context.Context, roomID int64) (Snapshot, error) {
	room, err := m.ledger.GetRoom(ctx, roomID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("session: observe room %d: %w", roomID, err)
	}
	roster := ResolveRoster(ctx, m.ledger, roomID)
	if !roster.Known() {
		m.log.Debugf("observe: roster unavailable for room %d: %v", roomID, roster.Err())
	}
	return m.derive(room, roster), nil
}

// derive builds the snapshot for a fresh (room, roster) pair and folds the
// played marker into the monotonic session record.
func (m *Module) derive(room rooms.Room, roster Roster) Snapshot {
	addr := m.address
	isMember := roster.IsMember(addr)
	hasSubmitted := roster.HasSubmitted(addr)
	prize := rooms.ComputePrize(room.EntryFee, room.MaxPlayers, m.commissionBps)

	playedNow, conclusive := derivePlayed(room, roster, isMember, hasSubmitted)

	m.mu.Lock()
	if conclusive && playedNow {
		m.played[room.ID] = true
	}
	hasPlayed := m.played[room.ID] || (conclusive && playedNow)
	m.mu.Unlock()

	snap := Snapshot{
		Room:         room,
		Players:      roster.Players(),
		RosterKnown:  roster.Known(),
		Address:      addr,
		IsCreator:    addr != "" && addr == room.Creator,
		IsMember:     isMember,
		HasSubmitted: hasSubmitted,
		HasPlayed:    hasPlayed,
		Prize:        prize,
		ObservedAt:   time.Now(),
	}

	if room.Status == rooms.StatusCompleted {
		snap.Result = m.deriveResult(room, prize)
	}
	snap.Action = deriveAction(snap)
	snap.StatusLine = statusLine(snap)
	return snap
}

// deriveResult renders the settled outcome purely from ledger facts. Local
// score bookkeeping plays no part: the winner field decides.
func (m *Module) deriveResult(room rooms.Room, prize rooms.Prize) *Result {
	res := &Result{
		Winner:   room.Winner,
		IsWinner: room.IsWinner(m.address),
		Claimed:  room.PrizeClaimed,
		Prize:    prize,
	}
	switch {
	case res.IsWinner && !res.Claimed:
		res.Display = "claimable"
	case res.IsWinner && res.Claimed:
		res.Display = "already claimed"
	default:
		res.Display = "not won"
	}
	return res
}

// derivePlayed computes the played marker from fresh facts. The second
// return is false when the roster was unreadable and the status alone
// cannot settle the question; the caller then keeps the prior marker.
func derivePlayed(room rooms.Room, roster Roster, isMember, hasSubmitted bool) (played, conclusive bool) {
	if room.Status.Terminal() {
		return true, true
	}
	switch room.Status {
	case rooms.StatusFilling:
		return false, true
	case rooms.StatusActive:
		if !roster.Known() {
			return false, false
		}
		if !isMember {
			// Non-members cannot play an active room.
			return true, true
		}
		return hasSubmitted, true
	}
	return false, false
}

func deriveAction(s Snapshot) Action {
	switch s.Room.Status {
	case rooms.StatusFilling:
		if s.IsMember || s.IsCreator {
			return ActionWait
		}
		if s.Room.IsFull() {
			return ActionNone
		}
		return ActionJoin
	case rooms.StatusActive:
		if !s.RosterKnown {
			return ActionWait
		}
		if !s.IsMember {
			return ActionSpectate
		}
		if s.HasSubmitted {
			return ActionWait
		}
		return ActionPlay
	case rooms.StatusCompleted:
		if s.Result != nil && s.Result.Display == "claimable" {
			return ActionClaim
		}
		return ActionNone
	}
	return ActionNone
}

func statusLine(s Snapshot) string {
	room := s.Room
	switch room.Status {
	case rooms.StatusFilling:
		base := fmt.Sprintf("Filling: %d/%d players", room.CurrentPlayers, room.MaxPlayers)
		switch {
		case s.IsMember || s.IsCreator:
			return base + ", waiting for opponents"
		case room.IsFull():
			return base + ", room is full"
		default:
			return base + ", open to join"
		}
	case rooms.StatusActive:
		if !s.RosterKnown {
			return "Active: roster unavailable, retry shortly"
		}
		if !s.IsMember {
			return "Active: match in progress"
		}
		if s.HasSubmitted {
			remaining := room.CurrentPlayers - KnownRoster(s.Players).SubmittedCount()
			return fmt.Sprintf("Active: score submitted, waiting on %d of %d players", remaining, room.CurrentPlayers)
		}
		return "Active: your turn to play"
	case rooms.StatusCompleted:
		if s.Result == nil || room.Winner == "" {
			return "Completed"
		}
		switch s.Result.Display {
		case "claimable":
			return fmt.Sprintf("Completed: you won %d points, prize claimable", s.Prize.NetPrize)
		case "already claimed":
			return "Completed: prize already claimed"
		default:
			return fmt.Sprintf("Completed: won by %s", room.Winner)
		}
	case rooms.StatusExpired:
		return "Expired: the room timed out before completing"
	case rooms.StatusCanceled:
		return "Canceled: the creator closed the room"
	}
	return room.Status.Display()
}

// --- Actions ---

// Create opens a new room. The entry fee is checked against the player's
// balance first as an advisory preflight; the ledger re-validates. Returns
// the ledger-assigned id and a fresh post-create snapshot.
func (m *Module) Create(ctx context.Context, req ledger.CreateRoomRequest) (int64, Snapshot, error) {
	if err := m.preflightBalance(ctx, req.EntryFee); err != nil {
		return 0, Snapshot{}, err
	}

	roomID, err := m.ledger.CreateRoom(ctx, req)
	if err != nil {
		return 0, Snapshot{}, err
	}
	m.log.Infof("created room %d (fee %d, %d players, %s)", roomID, req.EntryFee, req.MaxPlayers, req.GameType)

	snap, err := m.Observe(ctx, roomID)
	if err != nil {
		// The room exists; only the confirming read failed.
		return roomID, Snapshot{}, err
	}
	return roomID, snap, nil
}

// Join stakes into a room. Preconditions are predicted from a fresh read
// before the write; a rejection for being already on the roster is treated
// as success. Returns a fresh post-join snapshot.
func (m *Module) Join(ctx context.Context, roomID int64, inviteCode string) (Snapshot, error) {
	room, err := m.ledger.GetRoom(ctx, roomID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("session: read room %d before join: %w", roomID, err)
	}

	roster := ResolveRoster(ctx, m.ledger, roomID)
	if roster.Known() && roster.IsMember(m.address) {
		m.log.Debugf("join: %s already in room %d", m.address, roomID)
		return m.Observe(ctx, roomID)
	}

	if room.Status != rooms.StatusFilling {
		return Snapshot{}, &StatusError{Status: room.Status, Required: rooms.StatusFilling}
	}
	if room.IsFull() {
		return Snapshot{}, &RoomFullError{RoomID: roomID, MaxPlayers: room.MaxPlayers}
	}
	if room.Visibility == rooms.VisibilityPrivate && inviteCode == "" {
		return Snapshot{}, &InviteRequiredError{RoomID: roomID}
	}
	if err := m.preflightBalance(ctx, room.EntryFee); err != nil {
		return Snapshot{}, err
	}

	if err := m.ledger.JoinRoom(ctx, roomID, inviteCode); err != nil {
		if ledger.IsAlreadyJoined(err) {
			m.log.Debugf("join: ledger reports %s already in room %d", m.address, roomID)
		} else {
			return Snapshot{}, err
		}
	}
	m.log.Infof("joined room %d as %s", roomID, m.address)
	return m.Observe(ctx, roomID)
}

// SubmitScore runs the submission gate and, on acceptance, marks the
// session played, starts the completion watcher, and returns a fresh
// snapshot. A rejection for a prior submission also marks the session
// played, since it proves one exists; every other rejection leaves the
// marker untouched so the player can retry.
func (m *Module) SubmitScore(ctx context.Context, roomID int64, score int64) (Snapshot, error) {
	err := m.gate.TrySubmit(ctx, roomID, m.address, score)
	if err != nil {
		if IsAlreadySubmitted(err) || ledger.IsAlreadySubmitted(err) {
			m.markPlayed(roomID)
		}
		return Snapshot{}, err
	}
	m.markPlayed(roomID)

	snap, err := m.Observe(ctx, roomID)
	if err != nil {
		// The score is in; watch for completion even though the
		// confirming read failed.
		m.watcher.Watch(context.Background(), roomID)
		return Snapshot{}, err
	}
	if !snap.Room.Status.Terminal() {
		m.watcher.Watch(context.Background(), roomID)
	}
	return snap, nil
}

// ClaimPrize requests the settled prize. The ledger decides winner and
// claim state; rejections surface via the ledger error classifiers.
// Returns a fresh post-claim snapshot.
func (m *Module) ClaimPrize(ctx context.Context, roomID int64) (Snapshot, error) {
	if err := m.ledger.ClaimPrize(ctx, roomID); err != nil {
		return Snapshot{}, err
	}
	m.log.Infof("claimed prize for room %d", roomID)
	return m.Observe(ctx, roomID)
}

// CancelRoom cancels a still-filling room the player created. Returns a
// fresh post-cancel snapshot.
func (m *Module) CancelRoom(ctx context.Context, roomID int64) (Snapshot, error) {
	room, err := m.ledger.GetRoom(ctx, roomID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("session: read room %d before cancel: %w", roomID, err)
	}
	if room.Status != rooms.StatusFilling {
		return Snapshot{}, &StatusError{Status: room.Status, Required: rooms.StatusFilling}
	}
	if room.Creator != m.address {
		return Snapshot{}, &NotCreatorError{Address: m.address, RoomID: roomID}
	}

	if err := m.ledger.CancelRoom(ctx, roomID); err != nil {
		return Snapshot{}, err
	}
	m.log.Infof("canceled room %d", roomID)
	return m.Observe(ctx, roomID)
}

// Balance reads the player's point balance.
func (m *Module) Balance(ctx context.Context) (ledger.Balance, error) {
	return m.ledger.PlayerBalance(ctx, m.address)
}

func (m *Module) markPlayed(roomID int64) {
	m.mu.Lock()
	m.played[roomID] = true
	m.mu.Unlock()
}

// preflightBalance rejects stakes the player visibly cannot cover. A failed
// balance read skips the check rather than blocking the action: the check
// is advisory and the ledger re-validates.
func (m *Module) preflightBalance(ctx context.Context, entryFee int64) error {
	if entryFee <= 0 {
		return nil
	}
	bal, err := m.ledger.PlayerBalance(ctx, m.address)
	if err != nil {
		m.log.Debugf("balance preflight skipped: %v", err)
		return nil
	}
	if !bal.Covers(entryFee) {
		return &InsufficientBalanceError{Available: bal.AvailablePoints(), Required: entryFee}
	}
	return nil
}
