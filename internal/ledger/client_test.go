package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dropps07/GG-Monad/internal/rooms"
)

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{
		BaseURL:      "ledger.example",
		SessionToken: "test-token",
	})

	if c.BaseURL() != "ledger.example" {
		t.Errorf("base url: expected ledger.example, got %s", c.BaseURL())
	}
	if c.SessionToken() != "test-token" {
		t.Errorf("token mismatch")
	}
	if c.config.MaxRetries != 3 {
		t.Errorf("default retries: expected 3, got %d", c.config.MaxRetries)
	}
	if c.config.BaseRetryDelay != 2*time.Second {
		t.Errorf("default base delay: expected 2s, got %v", c.config.BaseRetryDelay)
	}
}

func TestSetSessionToken(t *testing.T) {
	c := NewClient(Config{SessionToken: "old"})
	c.SetSessionToken("new")

	if c.SessionToken() != "new" {
		t.Errorf("expected 'new', got %s", c.SessionToken())
	}
}

func TestGetRoom(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify request
		if r.Method != "POST" {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/v1/rpc" {
			t.Errorf("expected /api/v1/rpc, got %s", r.URL.Path)
		}
		if r.Header.Get("x-access-token") != "test-token" {
			t.Errorf("missing or wrong x-access-token header")
		}

		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["op"] != "room.get" {
			t.Errorf("expected op room.get, got %v", body["op"])
		}

		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"room": map[string]any{
					"id":             7,
					"creator":        "0xabc",
					"entryFee":       50,
					"maxPlayers":     2,
					"currentPlayers": 1,
					"gameType":       "arcade",
					"visibility":     "public",
					"status":         "filling",
					"prizePool":      50,
					"prizeClaimed":   false,
					"creationTime":   "2026-08-20T10:00:00Z",
					"expirationTime": "2026-08-20T11:00:00Z",
				},
			},
		})
	}))
	defer server.Close()

	c := NewClient(Config{
		BaseURL:      server.Listener.Addr().String(),
		SessionToken: "test-token",
		HTTPClient:   server.Client(),
	})

	ctx := context.Background()
	room, err := c.GetRoom(ctx, 7)
	if err != nil {
		t.Fatalf("GetRoom failed: %v", err)
	}

	if room.ID != 7 {
		t.Errorf("expected id 7, got %d", room.ID)
	}
	if room.Status != rooms.StatusFilling {
		t.Errorf("expected status filling, got %s", room.Status)
	}
	if room.EntryFee != 50 || room.MaxPlayers != 2 || room.CurrentPlayers != 1 {
		t.Errorf("stake schedule mismatch: %+v", room)
	}
	if room.CreationTime.IsZero() {
		t.Error("creation time should parse")
	}
}

func TestGetRoomNotFound(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]any{
				{"code": "ROOM_NOT_FOUND", "message": "no room with id 99"},
			},
		})
	}))
	defer server.Close()

	c := NewClient(Config{
		BaseURL:      server.Listener.Addr().String(),
		SessionToken: "test-token",
		HTTPClient:   server.Client(),
	})

	_, err := c.GetRoom(context.Background(), 99)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !IsNotFound(err) {
		t.Errorf("expected not-found classification, got: %v", err)
	}
	if IsTransient(err) {
		t.Error("a not-found rejection must never classify as transient")
	}
}

func TestRetryOnHTTP500(t *testing.T) {
	attempts := 0
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts <= 2 {
			w.WriteHeader(500)
			w.Write([]byte("sequencer restarting"))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"ok": true},
		})
	}))
	defer server.Close()

	c := NewClient(Config{
		BaseURL:        server.Listener.Addr().String(),
		SessionToken:   "test-token",
		HTTPClient:     server.Client(),
		MaxRetries:     3,
		BaseRetryDelay: 10 * time.Millisecond,
		MaxRetryDelay:  50 * time.Millisecond,
	})

	if err := c.JoinRoom(context.Background(), 7, ""); err != nil {
		t.Fatalf("expected success after retries, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestBusyRejectionRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			json.NewEncoder(w).Encode(map[string]any{
				"errors": []map[string]any{
					{"code": "LEDGER_BUSY", "message": "try again"},
				},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"ok": true},
		})
	}))
	defer server.Close()

	c := NewClient(Config{
		BaseURL:        server.Listener.Addr().String(),
		SessionToken:   "test-token",
		HTTPClient:     server.Client(),
		BaseRetryDelay: 5 * time.Millisecond,
	})

	if err := c.SubmitScore(context.Background(), 7, 100); err != nil {
		t.Fatalf("expected success after busy retry, got: %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestAuthError(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte("unauthorized"))
	}))
	defer server.Close()

	c := NewClient(Config{
		BaseURL:      server.Listener.Addr().String(),
		SessionToken: "expired-token",
		HTTPClient:   server.Client(),
	})

	_, err := c.GetRoom(context.Background(), 7)
	if err == nil {
		t.Fatal("expected auth error, got nil")
	}

	authErr, ok := err.(*AuthError)
	if !ok {
		t.Fatalf("expected *AuthError, got %T: %v", err, err)
	}
	if authErr.StatusCode != 401 {
		t.Errorf("expected status 401, got %d", authErr.StatusCode)
	}
	if IsTransient(err) {
		t.Error("auth failures must not classify as transient")
	}
}

func TestJoinRoomSendsRequestIdentifier(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)

		if body["op"] != "room.join" {
			t.Errorf("expected op room.join, got %v", body["op"])
		}
		id, _ := body["requestId"].(string)
		if len(id) != 21 {
			t.Errorf("expected 21-char requestId, got %q", id)
		}
		params, _ := body["params"].(map[string]any)
		if params["roomId"] != float64(7) {
			t.Errorf("expected roomId 7, got %v", params["roomId"])
		}
		if params["inviteCode"] != "QX7PLM" {
			t.Errorf("expected invite code, got %v", params["inviteCode"])
		}

		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"ok": true}})
	}))
	defer server.Close()

	c := NewClient(Config{
		BaseURL:      server.Listener.Addr().String(),
		SessionToken: "test-token",
		HTTPClient:   server.Client(),
	})

	if err := c.JoinRoom(context.Background(), 7, "QX7PLM"); err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}
}

func TestRejectionClassifiers(t *testing.T) {
	tests := []struct {
		code  string
		check func(error) bool
		name  string
	}{
		{CodeRoomNotFound, IsNotFound, "not found"},
		{CodeRoomFull, IsRoomFull, "room full"},
		{CodeBadInviteCode, IsBadInviteCode, "bad invite"},
		{CodeAlreadyJoined, IsAlreadyJoined, "already joined"},
		{CodeNotActive, IsNotActive, "not active"},
		{CodeNotMember, IsNotMember, "not member"},
		{CodeAlreadySubmitted, IsAlreadySubmitted, "already submitted"},
		{CodeNotWinner, IsNotWinner, "not winner"},
		{CodeAlreadyClaimed, IsAlreadyClaimed, "already claimed"},
		{CodeNotCompleted, IsNotCompleted, "not completed"},
		{CodeNotCreator, IsNotCreator, "not creator"},
		{CodeNotFilling, IsNotFilling, "not filling"},
		{CodeInsufficientBalance, IsInsufficientBalance, "insufficient balance"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &RPCError{Code: tt.code, Message: "test"}
			if !tt.check(err) {
				t.Errorf("expected %s check to return true", tt.name)
			}
			if IsTransient(err) {
				t.Errorf("%s rejection must not classify as transient", tt.name)
			}
		})
	}
}

func TestNormalizeBareMessages(t *testing.T) {
	// Gateways without structured codes fall back to message matching.
	cases := []struct {
		message string
		check   func(error) bool
	}{
		{"Room is already full", IsRoomFull},
		{"player has already submitted a score", IsAlreadySubmitted},
		{"prize already claimed", IsAlreadyClaimed},
		{"room not found", IsNotFound},
		{"insufficient balance for entry fee", IsInsufficientBalance},
	}
	for _, c := range cases {
		e := &RPCError{Message: c.message}
		e.normalize()
		if !c.check(e) {
			t.Errorf("normalize(%q): classification failed, code %q", c.message, e.Code)
		}
	}

	// A structured code always wins over the message.
	e := &RPCError{Code: CodeNotWinner, Message: "room not found"}
	e.normalize()
	if !IsNotWinner(e) || IsNotFound(e) {
		t.Errorf("normalize must not override a structured code, got %q", e.Code)
	}
}

func TestUnjoinableStateClassifier(t *testing.T) {
	for _, code := range []string{CodeRoomExpired, CodeRoomCanceled, CodeRoomCompleted} {
		if !IsUnjoinableState(&RPCError{Code: code}) {
			t.Errorf("expected %s to classify as unjoinable state", code)
		}
	}
	if IsUnjoinableState(&RPCError{Code: CodeRoomFull}) {
		t.Error("room full is not a lifecycle-state rejection")
	}
}

func TestPlayerBalance(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"balance": map[string]any{
					"available": "125.5",
					"locked":    "50",
					"currency":  "GG",
				},
			},
		})
	}))
	defer server.Close()

	c := NewClient(Config{
		BaseURL:      server.Listener.Addr().String(),
		SessionToken: "test-token",
		HTTPClient:   server.Client(),
	})

	bal, err := c.PlayerBalance(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("PlayerBalance failed: %v", err)
	}
	if !bal.Available.Equal(decimal.RequireFromString("125.5")) {
		t.Errorf("available mismatch: got %s", bal.Available.String())
	}
	if bal.AvailablePoints() != 125 {
		t.Errorf("expected 125 whole points, got %d", bal.AvailablePoints())
	}
	if !bal.Covers(125) {
		t.Error("balance should cover a 125-point entry fee")
	}
	if bal.Covers(126) {
		t.Error("balance should not cover a 126-point entry fee")
	}
}

func TestGetPlayers(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"players": []map[string]any{
					{"address": "0xabc", "hasSubmitted": true, "score": 420},
					{"address": "0xdef", "hasSubmitted": false, "score": 0},
				},
			},
		})
	}))
	defer server.Close()

	c := NewClient(Config{
		BaseURL:      server.Listener.Addr().String(),
		SessionToken: "test-token",
		HTTPClient:   server.Client(),
	})

	players, err := c.GetPlayers(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetPlayers failed: %v", err)
	}
	if len(players) != 2 {
		t.Fatalf("expected 2 players, got %d", len(players))
	}
	if players[0].Address != "0xabc" || !players[0].HasSubmitted || players[0].Score != 420 {
		t.Errorf("first player mismatch: %+v", players[0])
	}
	if players[1].HasSubmitted {
		t.Errorf("second player should not have submitted: %+v", players[1])
	}
}

func TestCreateRoomValidation(t *testing.T) {
	c := NewClient(Config{SessionToken: "test-token"})
	ctx := context.Background()

	_, err := c.CreateRoom(ctx, CreateRoomRequest{
		EntryFee: 50, MaxPlayers: 1,
		GameType: rooms.GameArcade, Visibility: rooms.VisibilityPublic,
	})
	if err == nil {
		t.Fatal("expected max players error")
	}

	_, err = c.CreateRoom(ctx, CreateRoomRequest{
		EntryFee: -1, MaxPlayers: 2,
		GameType: rooms.GameArcade, Visibility: rooms.VisibilityPublic,
	})
	if err == nil {
		t.Fatal("expected entry fee error")
	}

	_, err = c.CreateRoom(ctx, CreateRoomRequest{
		EntryFee: 50, MaxPlayers: 2,
		GameType: rooms.GameArcade, Visibility: rooms.VisibilityPrivate,
	})
	if err == nil {
		t.Fatal("expected missing invite code error")
	}

	_, err = c.CreateRoom(ctx, CreateRoomRequest{
		EntryFee: 50, MaxPlayers: 2,
		GameType: "poker", Visibility: rooms.VisibilityPublic,
	})
	if err == nil {
		t.Fatal("expected game type error")
	}
}

func TestSubmitScoreValidation(t *testing.T) {
	c := NewClient(Config{SessionToken: "test-token"})
	ctx := context.Background()

	if err := c.SubmitScore(ctx, 0, 100); err == nil {
		t.Fatal("expected room id error")
	}
	if err := c.SubmitScore(ctx, 7, -1); err == nil {
		t.Fatal("expected negative score error")
	}
}

func TestCreateRoom(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		params, _ := body["params"].(map[string]any)
		if params["entryFee"] != float64(50) || params["maxPlayers"] != float64(2) {
			t.Errorf("stake schedule mismatch: %v", params)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"roomId": 42},
		})
	}))
	defer server.Close()

	c := NewClient(Config{
		BaseURL:      server.Listener.Addr().String(),
		SessionToken: "test-token",
		HTTPClient:   server.Client(),
	})

	id, err := c.CreateRoom(context.Background(), CreateRoomRequest{
		EntryFee:       50,
		MaxPlayers:     2,
		GameType:       rooms.GameArcade,
		Visibility:     rooms.VisibilityPublic,
		ExpirationTime: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if id != 42 {
		t.Errorf("expected room id 42, got %d", id)
	}
}
