// Package gateway runs the local HTTP API the presentation layer calls.
// It fronts the session engine, the room registry, and the match history
// store on a loopback listener, and streams room snapshots over websockets
// as the completion watcher observes changes.
package gateway

import (
	"context"
	"fmt"

	"github.com/decred/slog"

	"github.com/dropps07/GG-Monad/internal/ledger"
	"github.com/dropps07/GG-Monad/internal/rooms"
	"github.com/dropps07/GG-Monad/internal/session"
	"github.com/dropps07/GG-Monad/internal/store"
)

// Engine is the session surface the gateway exposes over HTTP.
type Engine interface {
	Address() string
	Observe(ctx context.Context, roomID int64) (session.Snapshot, error)
	Create(ctx context.Context, req ledger.CreateRoomRequest) (int64, session.Snapshot, error)
	Join(ctx context.Context, roomID int64, inviteCode string) (session.Snapshot, error)
	SubmitScore(ctx context.Context, roomID int64, score int64) (session.Snapshot, error)
	ClaimPrize(ctx context.Context, roomID int64) (session.Snapshot, error)
	CancelRoom(ctx context.Context, roomID int64) (session.Snapshot, error)
	Balance(ctx context.Context) (ledger.Balance, error)
	Watcher() *session.Watcher
}

// RoomLister is the registry surface the gateway exposes.
type RoomLister interface {
	ListFilling(ctx context.Context, limit int) ([]rooms.Room, error)
}

// Module owns the gateway server and the history store. UI processes talk
// to it over loopback HTTP; token may be empty to disable auth.
type Module struct {
	engine  Engine
	lister  RoomLister
	history store.DB
	server  *Server

	port  int
	token string
	log   slog.Logger
}

// NewModule constructs the module but does not start the HTTP server.
// Call Startup(ctx) to bind the listener.
func NewModule(engine Engine, lister RoomLister, history store.DB, port int, token string, log slog.Logger) *Module {
	if log == nil {
		log = slog.Disabled
	}
	return &Module{
		engine:  engine,
		lister:  lister,
		history: history,
		port:    port,
		token:   token,
		log:     log,
	}
}

// Startup starts the loopback HTTP server. It returns once the socket is
// bound.
func (m *Module) Startup(ctx context.Context) error {
	m.server = NewServer(m.engine, m.lister, m.history, m.port, m.token, m.log)
	if err := m.server.Start(); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	m.log.Infof("gateway listening on %s", m.server.Addr())
	return nil
}

// Shutdown stops the HTTP server and closes the history store.
func (m *Module) Shutdown(ctx context.Context) error {
	if m.server != nil {
		if err := m.server.Shutdown(ctx); err != nil {
			m.log.Warnf("gateway shutdown: %v", err)
		}
	}
	if m.history != nil {
		return m.history.Close()
	}
	return nil
}

// BaseURL returns the loopback URL UI processes should call, for rendering
// in a settings view.
func (m *Module) BaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", m.port)
}

// TokenEnabled reports whether requests must carry the bearer token.
func (m *Module) TokenEnabled() bool {
	return m.token != ""
}
