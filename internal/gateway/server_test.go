package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dropps07/GG-Monad/internal/ledger"
	"github.com/dropps07/GG-Monad/internal/rooms"
	"github.com/dropps07/GG-Monad/internal/session"
	"github.com/dropps07/GG-Monad/internal/store"
)

type fakeEngine struct {
	mu      sync.Mutex
	address string
	snap    session.Snapshot

	observeErr error
	submitErr  error
	claimErr   error
	createID   int64

	watcher *session.Watcher
}

func (f *fakeEngine) Address() string { return f.address }

func (f *fakeEngine) Observe(ctx context.Context, roomID int64) (session.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.observeErr != nil {
		return session.Snapshot{}, f.observeErr
	}
	return f.snap, nil
}

func (f *fakeEngine) Create(ctx context.Context, req ledger.CreateRoomRequest) (int64, session.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createID, f.snap, nil
}

func (f *fakeEngine) Join(ctx context.Context, roomID int64, inviteCode string) (session.Snapshot, error) {
	return f.Observe(ctx, roomID)
}

func (f *fakeEngine) SubmitScore(ctx context.Context, roomID int64, score int64) (session.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return session.Snapshot{}, f.submitErr
	}
	return f.snap, nil
}

func (f *fakeEngine) ClaimPrize(ctx context.Context, roomID int64) (session.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return session.Snapshot{}, f.claimErr
	}
	return f.snap, nil
}

func (f *fakeEngine) CancelRoom(ctx context.Context, roomID int64) (session.Snapshot, error) {
	return f.Observe(ctx, roomID)
}

func (f *fakeEngine) Balance(ctx context.Context) (ledger.Balance, error) {
	return ledger.Balance{}, nil
}

// GetRoom lets the fake engine double as the watcher's room reader.
func (f *fakeEngine) GetRoom(ctx context.Context, roomID int64) (rooms.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap.Room, nil
}

func (f *fakeEngine) Watcher() *session.Watcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watcher == nil {
		f.watcher = session.NewWatcher(f, 10*time.Millisecond, time.Minute, nil)
	}
	return f.watcher
}

type fakeLister struct {
	rooms []rooms.Room
}

func (f *fakeLister) ListFilling(ctx context.Context, limit int) ([]rooms.Room, error) {
	return f.rooms, nil
}

func newTestServer(t *testing.T, engine *fakeEngine, lister RoomLister, history store.DB, token string) *httptest.Server {
	t.Helper()
	s := NewServer(engine, lister, history, 0, token, nil)
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func newTestHistory(t *testing.T) *store.SQLiteStore {
	t.Helper()
	h, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	if err := h.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return h
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &fakeEngine{address: "me"}, &fakeLister{}, nil, "")

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	var body map[string]any
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}
}

func TestBearerTokenAuth(t *testing.T) {
	ts := newTestServer(t, &fakeEngine{address: "me"}, &fakeLister{}, nil, "s3cret")

	// No token.
	resp, err := http.Get(ts.URL + "/api/v1/version")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", resp.StatusCode)
	}

	// Header token.
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/version", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with header: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("header token: status = %d, want 200", resp.StatusCode)
	}

	// Query token, the form websocket clients use.
	resp, err = http.Get(ts.URL + "/api/v1/version?token=s3cret")
	if err != nil {
		t.Fatalf("GET with query token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("query token: status = %d, want 200", resp.StatusCode)
	}

	// Health stays open without a token.
	resp, err = http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health with auth enabled: status = %d, want 200", resp.StatusCode)
	}
}

func TestListRooms(t *testing.T) {
	lister := &fakeLister{rooms: []rooms.Room{
		{ID: 9, EntryFee: 50, MaxPlayers: 2, Status: rooms.StatusFilling},
		{ID: 4, EntryFee: 10, MaxPlayers: 4, Status: rooms.StatusFilling},
	}}
	ts := newTestServer(t, &fakeEngine{address: "me"}, lister, nil, "")

	resp, err := http.Get(ts.URL + "/api/v1/rooms")
	if err != nil {
		t.Fatalf("GET /rooms: %v", err)
	}
	var body struct {
		Rooms []rooms.Room `json:"rooms"`
		Count int          `json:"count"`
	}
	decodeBody(t, resp, &body)
	if body.Count != 2 || len(body.Rooms) != 2 {
		t.Errorf("rooms = %+v", body)
	}

	resp, err = http.Get(ts.URL + "/api/v1/rooms?limit=bogus")
	if err != nil {
		t.Fatalf("GET /rooms bogus limit: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus limit: status = %d, want 400", resp.StatusCode)
	}
}

func TestObserveRecordsTerminalOutcome(t *testing.T) {
	history := newTestHistory(t)
	engine := &fakeEngine{
		address: "me",
		snap: session.Snapshot{
			Room: rooms.Room{
				ID: 7, EntryFee: 50, MaxPlayers: 2, CurrentPlayers: 2,
				GameType: rooms.GameArcade, Status: rooms.StatusCompleted,
				Winner: "me", PrizePool: 100,
			},
			Players: []rooms.Player{
				{Address: "me", HasSubmitted: true, Score: 420},
				{Address: "rival", HasSubmitted: true, Score: 17},
			},
			RosterKnown: true,
			Prize:       rooms.ComputePrize(50, 2, rooms.DefaultCommissionBps),
		},
	}
	ts := newTestServer(t, engine, &fakeLister{}, history, "")

	resp, err := http.Get(ts.URL + "/api/v1/rooms/7")
	if err != nil {
		t.Fatalf("GET /rooms/7: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("observe: status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/v1/history")
	if err != nil {
		t.Fatalf("GET /history: %v", err)
	}
	var list store.OutcomesList
	decodeBody(t, resp, &list)
	if list.TotalCount != 1 {
		t.Fatalf("history total = %d, want 1", list.TotalCount)
	}
	got := list.Outcomes[0]
	if !got.Won || got.NetPrize != 90 || got.Winner != "me" {
		t.Errorf("outcome = %+v", got)
	}
	if got.Score == nil || *got.Score != 420 {
		t.Errorf("outcome score = %v, want 420", got.Score)
	}
}

func TestSubmitScoreValidation(t *testing.T) {
	ts := newTestServer(t, &fakeEngine{address: "me"}, &fakeLister{}, nil, "")

	for _, body := range []string{`{}`, `{"score": -1}`, `not json`} {
		resp, err := http.Post(ts.URL+"/api/v1/rooms/7/score", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST score: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, resp.StatusCode)
		}
	}

	resp, err := http.Post(ts.URL+"/api/v1/rooms/zero/score", "application/json", strings.NewReader(`{"score": 1}`))
	if err != nil {
		t.Fatalf("POST score: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad room id: status = %d, want 400", resp.StatusCode)
	}
}

func TestSubmitScoreFillingRejection(t *testing.T) {
	engine := &fakeEngine{
		address:   "me",
		submitErr: &session.StatusError{Status: rooms.StatusFilling, Required: rooms.StatusActive},
	}
	ts := newTestServer(t, engine, &fakeLister{}, nil, "")

	resp, err := http.Post(ts.URL+"/api/v1/rooms/7/score", "application/json", strings.NewReader(`{"score": 10}`))
	if err != nil {
		t.Fatalf("POST score: %v", err)
	}
	var body apiError
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
	if body.Type != ErrTypeStatus {
		t.Errorf("type = %q, want %q", body.Type, ErrTypeStatus)
	}
	if !strings.Contains(body.Message, "Filling") {
		t.Errorf("message %q should mention Filling", body.Message)
	}
}

func TestClaimAlreadyClaimed(t *testing.T) {
	engine := &fakeEngine{
		address:  "me",
		claimErr: &ledger.RPCError{Code: ledger.CodeAlreadyClaimed, Message: "prize already claimed"},
	}
	ts := newTestServer(t, engine, &fakeLister{}, nil, "")

	resp, err := http.Post(ts.URL+"/api/v1/rooms/7/claim", "application/json", nil)
	if err != nil {
		t.Fatalf("POST claim: %v", err)
	}
	var body apiError
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusConflict || body.Type != ErrTypeAlreadyClaimed {
		t.Errorf("claim = %d %q, want 409 %q", resp.StatusCode, body.Type, ErrTypeAlreadyClaimed)
	}
}

func TestCreateRoomGeneratesInviteCode(t *testing.T) {
	engine := &fakeEngine{address: "me", createID: 42}
	ts := newTestServer(t, engine, &fakeLister{}, nil, "")

	payload := `{"entryFee": 50, "maxPlayers": 2, "gameType": "arcade", "visibility": "private"}`
	resp, err := http.Post(ts.URL+"/api/v1/rooms", "application/json", bytes.NewReader([]byte(payload)))
	if err != nil {
		t.Fatalf("POST /rooms: %v", err)
	}
	var body struct {
		RoomID     int64  `json:"roomId"`
		InviteCode string `json:"inviteCode"`
	}
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status = %d", resp.StatusCode)
	}
	if body.RoomID != 42 {
		t.Errorf("roomId = %d, want 42", body.RoomID)
	}
	if len(body.InviteCode) != 6 {
		t.Errorf("inviteCode = %q, want 6 characters", body.InviteCode)
	}
}

func TestCreateRoomValidation(t *testing.T) {
	ts := newTestServer(t, &fakeEngine{address: "me"}, &fakeLister{}, nil, "")

	cases := []string{
		`{"entryFee": -1, "maxPlayers": 2, "gameType": "arcade", "visibility": "public"}`,
		`{"entryFee": 50, "maxPlayers": 1, "gameType": "arcade", "visibility": "public"}`,
		`{"entryFee": 50, "maxPlayers": 2, "gameType": "pinball", "visibility": "public"}`,
		`{"entryFee": 50, "maxPlayers": 2, "gameType": "arcade", "visibility": "secret"}`,
	}
	for _, payload := range cases {
		resp, err := http.Post(ts.URL+"/api/v1/rooms", "application/json", strings.NewReader(payload))
		if err != nil {
			t.Fatalf("POST /rooms: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("payload %s: status = %d, want 400", payload, resp.StatusCode)
		}
	}
}

func TestRoomEventsStream(t *testing.T) {
	engine := &fakeEngine{
		address: "me",
		snap: session.Snapshot{
			Room: rooms.Room{
				ID: 7, EntryFee: 50, MaxPlayers: 2, CurrentPlayers: 2,
				GameType: rooms.GameArcade, Status: rooms.StatusActive,
			},
			RosterKnown: true,
			Action:      session.ActionPlay,
		},
	}
	ts := newTestServer(t, engine, &fakeLister{}, nil, "")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/rooms/7/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v (resp %+v)", wsURL, err, resp)
	}
	defer conn.Close()

	// Initial frame, then at least one watcher-driven frame.
	for i := 0; i < 2; i++ {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var snap session.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if snap.Room.ID != 7 {
			t.Errorf("frame %d room = %d, want 7", i, snap.Room.ID)
		}
	}

	if !engine.Watcher().Watching(7) {
		t.Error("events stream should keep a poll loop active for the room")
	}
}

func TestHistoryPagination(t *testing.T) {
	history := newTestHistory(t)
	for i := int64(1); i <= 3; i++ {
		if err := history.SaveOutcome(context.Background(), &store.Outcome{
			RoomID: i, GameType: "arcade", EntryFee: 10, MaxPlayers: 2, Status: "completed",
		}); err != nil {
			t.Fatalf("SaveOutcome: %v", err)
		}
	}
	ts := newTestServer(t, &fakeEngine{address: "me"}, &fakeLister{}, history, "")

	resp, err := http.Get(fmt.Sprintf("%s/api/v1/history?page=2&perPage=2", ts.URL))
	if err != nil {
		t.Fatalf("GET /history: %v", err)
	}
	var list store.OutcomesList
	decodeBody(t, resp, &list)
	if list.TotalCount != 3 || list.Page != 2 || len(list.Outcomes) != 1 {
		t.Errorf("history page 2 = total %d page %d rows %d", list.TotalCount, list.Page, len(list.Outcomes))
	}
}
