package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/decred/slog"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/dropps07/GG-Monad/internal/ledger"
	"github.com/dropps07/GG-Monad/internal/rooms"
	"github.com/dropps07/GG-Monad/internal/session"
	"github.com/dropps07/GG-Monad/internal/store"
)

// Version is reported by the version endpoint and the response headers.
const Version = "1.0.0"

// Server handles the gateway's HTTP requests.
type Server struct {
	engine  Engine
	lister  RoomLister
	history store.DB
	token   string
	addr    string
	log     slog.Logger

	httpServer *http.Server
	upgrader   websocket.Upgrader
	startTime  time.Time
}

// NewServer creates a gateway server bound to loopback at the given port.
// token may be empty to disable token checks.
func NewServer(engine Engine, lister RoomLister, history store.DB, port int, token string, log slog.Logger) *Server {
	if port <= 0 {
		port = 17890
	}
	if log == nil {
		log = slog.Disabled
	}
	return &Server{
		engine:  engine,
		lister:  lister,
		history: history,
		token:   token,
		addr:    fmt.Sprintf("127.0.0.1:%d", port),
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Loopback listener; local UI origins are fine.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
	}
}

// Addr returns the listener address.
func (s *Server) Addr() string { return s.addr }

// Routes sets up the HTTP routes with middleware.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.cors)
	r.Use(s.requestLogging)
	r.Use(s.recovery)

	r.Get("/health", s.handleHealth)
	r.Get("/health/live", s.handleHealth)
	r.Get("/health/ready", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth)

		r.Get("/version", s.handleVersion)
		r.Get("/balance", s.handleBalance)
		r.Get("/history", s.handleHistory)

		r.Get("/rooms", s.handleListRooms)
		r.Post("/rooms", s.handleCreateRoom)
		r.Get("/rooms/{id}", s.handleObserveRoom)
		r.Post("/rooms/{id}/join", s.handleJoinRoom)
		r.Post("/rooms/{id}/score", s.handleSubmitScore)
		r.Post("/rooms/{id}/claim", s.handleClaimPrize)
		r.Post("/rooms/{id}/cancel", s.handleCancelRoom)
		r.Get("/rooms/{id}/events", s.handleRoomEvents)
	})

	return r
}

// Start begins listening in a goroutine. It returns once the socket is bound.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:        s.addr,
		Handler:     s.Routes(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: the events route holds its connection open.
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	go func() {
		_ = s.httpServer.Serve(ln)
	}()
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// --- Middleware ---

// requestLogging logs request start/completion without bodies or tokens.
func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debugf("request method=%s path=%s status=%d duration=%v request_id=%s",
			r.Method, r.URL.Path, ww.Status(), time.Since(start), requestID)
	})
}

// recovery converts handler panics into structured 500 responses.
func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				requestID := middleware.GetReqID(r.Context())
				s.log.Errorf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				s.writeJSON(w, http.StatusInternalServerError, apiError{
					Type:      ErrTypeInternal,
					Message:   "internal server error",
					RequestID: requestID,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// cors allows local UI origins. The listener is loopback-only, so the
// reflected origin is always a localhost page.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// auth enforces the static bearer token when one is configured. Websocket
// clients may pass it as a query parameter since browsers cannot set
// headers on websocket dials.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got == "" {
				got = r.URL.Query().Get("token")
			}
			if got != s.token {
				s.log.Warnf("unauthorized request to %s from %s", r.URL.Path, r.RemoteAddr)
				s.writeJSON(w, http.StatusUnauthorized, apiError{
					Type:    ErrTypeUnauthorized,
					Message: "missing or invalid bearer token",
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// --- Response helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Gateway-Version", Version)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	body.RequestID = middleware.GetReqID(r.Context())
	if status >= 500 {
		s.log.Warnf("%s %s failed: %v", r.Method, r.URL.Path, err)
	}
	s.writeJSON(w, status, body)
}

func (s *Server) writeValidationError(w http.ResponseWriter, message string) {
	s.writeJSON(w, http.StatusBadRequest, apiError{Type: ErrTypeValidation, Message: message})
}

func (s *Server) roomID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeValidationError(w, "room id must be a positive integer")
		return 0, false
	}
	return id, true
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"uptime":  time.Since(s.startTime).String(),
		"version": Version,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	// Ready means the ledger answers a read; a transient failure reports
	// not-ready without killing the process.
	if _, err := s.engine.Balance(r.Context()); err != nil && ledger.IsTransient(err) {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"reason": "ledger unreachable",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"version": Version,
		"address": s.engine.Address(),
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := s.engine.Balance(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, bal)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeValidationError(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	list, err := s.lister.ListFilling(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rooms": list, "count": len(list)})
}

func (s *Server) handleObserveRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := s.roomID(w, r)
	if !ok {
		return
	}
	snap, err := s.engine.Observe(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.recordOutcome(r.Context(), snap)
	s.writeJSON(w, http.StatusOK, snap)
}

type createRoomRequest struct {
	EntryFee       int64  `json:"entryFee"`
	MaxPlayers     int    `json:"maxPlayers"`
	GameType       string `json:"gameType"`
	Visibility     string `json:"visibility"`
	InviteCode     string `json:"inviteCode,omitempty"`
	ExpirationTime string `json:"expirationTime,omitempty"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeValidationError(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.EntryFee < 0 {
		s.writeValidationError(w, "entryFee must be >= 0")
		return
	}
	if req.MaxPlayers < 2 {
		s.writeValidationError(w, "maxPlayers must be >= 2")
		return
	}
	gameType, err := rooms.ParseGameType(req.GameType)
	if err != nil {
		s.writeValidationError(w, err.Error())
		return
	}
	visibility, err := rooms.ParseVisibility(req.Visibility)
	if err != nil {
		s.writeValidationError(w, err.Error())
		return
	}

	inviteCode := req.InviteCode
	if visibility == rooms.VisibilityPrivate && inviteCode == "" {
		inviteCode = rooms.NewInviteCode()
	}
	var expiration time.Time
	if req.ExpirationTime != "" {
		expiration, err = time.Parse(time.RFC3339, req.ExpirationTime)
		if err != nil {
			s.writeValidationError(w, "expirationTime must be RFC3339")
			return
		}
	}

	roomID, snap, err := s.engine.Create(r.Context(), ledger.CreateRoomRequest{
		EntryFee:       req.EntryFee,
		MaxPlayers:     req.MaxPlayers,
		GameType:       gameType,
		Visibility:     visibility,
		InviteCode:     inviteCode,
		ExpirationTime: expiration,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := map[string]any{"roomId": roomID, "snapshot": snap}
	if visibility == rooms.VisibilityPrivate {
		resp["inviteCode"] = inviteCode
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := s.roomID(w, r)
	if !ok {
		return
	}
	var req struct {
		InviteCode string `json:"inviteCode,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeValidationError(w, "invalid JSON body: "+err.Error())
			return
		}
	}

	snap, err := s.engine.Join(r.Context(), id, req.InviteCode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSubmitScore(w http.ResponseWriter, r *http.Request) {
	id, ok := s.roomID(w, r)
	if !ok {
		return
	}
	var req struct {
		Score *int64 `json:"score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeValidationError(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.Score == nil || *req.Score < 0 {
		s.writeValidationError(w, "score must be a non-negative integer")
		return
	}

	snap, err := s.engine.SubmitScore(r.Context(), id, *req.Score)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.recordOutcome(r.Context(), snap)
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleClaimPrize(w http.ResponseWriter, r *http.Request) {
	id, ok := s.roomID(w, r)
	if !ok {
		return
	}
	snap, err := s.engine.ClaimPrize(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.history != nil {
		if err := s.history.MarkClaimed(r.Context(), id); err != nil {
			s.log.Debugf("history: mark claimed for room %d: %v", id, err)
		}
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancelRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := s.roomID(w, r)
	if !ok {
		return
	}
	snap, err := s.engine.CancelRoom(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSON(w, http.StatusOK, &store.OutcomesList{Outcomes: []store.Outcome{}})
		return
	}
	q := store.OutcomesQuery{
		GameType: r.URL.Query().Get("game"),
		WonOnly:  r.URL.Query().Get("won") == "true",
	}
	q.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	q.PerPage, _ = strconv.Atoi(r.URL.Query().Get("perPage"))

	list, err := s.history.ListOutcomes(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

// handleRoomEvents streams session snapshots for one room over a websocket.
// Each watcher observation triggers a fresh Observe, so every frame carries
// ledger-derived facts, not patched local state.
func (s *Server) handleRoomEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := s.roomID(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Debugf("websocket upgrade for room %d failed: %v", id, err)
		return
	}
	defer conn.Close()

	watcher := s.engine.Watcher()
	updates, unsub := watcher.Subscribe(id)
	defer unsub()

	// Ensure a poll loop is running while someone is viewing the room.
	watcher.Watch(context.Background(), id)

	// Initial frame.
	if !s.sendSnapshot(r.Context(), conn, id) {
		return
	}

	// Reader goroutine: surfaces client disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			// Terminal frames are still sent; the client closes after it
			// renders the result.
			if !s.sendSnapshot(r.Context(), conn, id) {
				return
			}
		}
	}
}

// sendSnapshot observes the room fresh and writes one websocket frame.
// Returns false when the connection should be dropped.
func (s *Server) sendSnapshot(ctx context.Context, conn *websocket.Conn, roomID int64) bool {
	snap, err := s.engine.Observe(ctx, roomID)
	if err != nil {
		// Transient: keep the stream alive, the next tick retries.
		s.log.Debugf("events: observe room %d failed: %v", roomID, err)
		return true
	}
	s.recordOutcome(ctx, snap)

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(snap); err != nil {
		s.log.Debugf("events: write for room %d failed: %v", roomID, err)
		return false
	}
	return true
}

// recordOutcome persists terminal observations to the history store. Saving
// is best-effort; history is a local convenience, never settlement truth.
func (s *Server) recordOutcome(ctx context.Context, snap session.Snapshot) {
	if s.history == nil || !snap.Room.Status.Terminal() {
		return
	}

	outcome := &store.Outcome{
		RoomID:     snap.Room.ID,
		GameType:   string(snap.Room.GameType),
		EntryFee:   snap.Room.EntryFee,
		MaxPlayers: snap.Room.MaxPlayers,
		Status:     string(snap.Room.Status),
		Winner:     snap.Room.Winner,
		Won:        snap.Room.IsWinner(s.engine.Address()),
		Claimed:    snap.Room.PrizeClaimed,
	}
	if outcome.Won {
		outcome.NetPrize = snap.Prize.NetPrize
	}
	for _, p := range snap.Players {
		if p.Address == s.engine.Address() && p.HasSubmitted {
			score := p.Score
			outcome.Score = &score
			break
		}
	}

	if err := s.history.SaveOutcome(ctx, outcome); err != nil {
		s.log.Debugf("history: save outcome for room %d: %v", snap.Room.ID, err)
	}
}
