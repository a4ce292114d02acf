// Package registry enumerates and fetches room records from the ledger.
// It is a pure read-side catalog: no state beyond scan configuration, and
// every listing call rescans the id range fresh.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dropps07/GG-Monad/internal/ledger"
	"github.com/dropps07/GG-Monad/internal/rooms"
)

// RoomReader is the single ledger read the registry depends on.
type RoomReader interface {
	GetRoom(ctx context.Context, roomID int64) (rooms.Room, error)
}

// Config holds scan tuning for a Registry.
type Config struct {
	// ScanCeiling is the highest room id probed by ListFilling.
	// Defaults to 50 if zero.
	ScanCeiling int

	// BatchSize bounds concurrent outstanding reads during a scan.
	// Defaults to 5 if zero.
	BatchSize int

	// ReadRetries is the number of retries GetRoom performs on transient
	// read errors. Defaults to 2 if zero.
	ReadRetries int

	// ReadBackoff is the initial backoff between GetRoom retries.
	// Defaults to 250ms if zero.
	ReadBackoff time.Duration

	// Log receives scan diagnostics. Defaults to a disabled logger.
	Log slog.Logger
}

// Registry is the read-side room catalog.
type Registry struct {
	ledger      RoomReader
	ceiling     int
	batch       int
	readRetries int
	readBackoff time.Duration
	log         slog.Logger
}

// New creates a Registry over the given ledger reader.
func New(reader RoomReader, cfg Config) *Registry {
	if cfg.ScanCeiling <= 0 {
		cfg.ScanCeiling = 50
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.ReadRetries <= 0 {
		cfg.ReadRetries = 2
	}
	if cfg.ReadBackoff <= 0 {
		cfg.ReadBackoff = 250 * time.Millisecond
	}
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	return &Registry{
		ledger:      reader,
		ceiling:     cfg.ScanCeiling,
		batch:       cfg.BatchSize,
		readRetries: cfg.ReadRetries,
		readBackoff: cfg.ReadBackoff,
		log:         log,
	}
}

// ListFilling scans ids [1, ceiling] in bounded batches and returns rooms
// whose ledger-reported status is filling, deduplicated by id and sorted by
// descending creation time. Unreachable or absent ids are skipped, never
// fatal; only context cancellation aborts the scan. Callers re-invoke to
// refresh, there is no caching across calls. limit <= 0 means no cap.
func (r *Registry) ListFilling(ctx context.Context, limit int) ([]rooms.Room, error) {
	var (
		mu      sync.Mutex
		found   = make(map[int64]rooms.Room)
		skipped error
		absent  int
	)

	for lo := 1; lo <= r.ceiling; lo += r.batch {
		hi := lo + r.batch - 1
		if hi > r.ceiling {
			hi = r.ceiling
		}

		g, gctx := errgroup.WithContext(ctx)
		for id := lo; id <= hi; id++ {
			id := int64(id)
			g.Go(func() error {
				room, err := r.ledger.GetRoom(gctx, id)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					mu.Lock()
					if ledger.IsNotFound(err) {
						absent++
					} else {
						skipped = multierr.Append(skipped, fmt.Errorf("room %d: %w", id, err))
					}
					mu.Unlock()
					return nil
				}
				if room.Status == rooms.StatusFilling {
					mu.Lock()
					found[room.ID] = room
					mu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	if skipped != nil {
		r.log.Debugf("scan skipped %d unreachable ids: %v", len(multierr.Errors(skipped)), skipped)
	}
	r.log.Tracef("scan covered ids 1..%d: %d filling, %d absent", r.ceiling, len(found), absent)

	out := make([]rooms.Room, 0, len(found))
	for _, room := range found {
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreationTime.Equal(out[j].CreationTime) {
			return out[i].CreationTime.After(out[j].CreationTime)
		}
		return out[i].ID > out[j].ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetRoom reads one room, retrying transient failures with bounded backoff.
// A not-found rejection returns immediately; it is absence, not an outage,
// and callers must not conflate the two.
func (r *Registry) GetRoom(ctx context.Context, roomID int64) (rooms.Room, error) {
	var room rooms.Room
	backoff := retry.WithMaxRetries(uint64(r.readRetries), retry.NewExponential(r.readBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		room, err = r.ledger.GetRoom(ctx, roomID)
		if err != nil && ledger.IsTransient(err) {
			r.log.Debugf("transient read for room %d: %v", roomID, err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return rooms.Room{}, err
	}
	return room, nil
}
