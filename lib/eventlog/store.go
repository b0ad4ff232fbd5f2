// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/meshfox/meshfox/lib/deviceid"
	"github.com/meshfox/meshfox/lib/envelope"
	"github.com/meshfox/meshfox/lib/eventid"
	"github.com/meshfox/meshfox/lib/sqlitepool"
	"github.com/meshfox/meshfox/lib/vectorclock"
)

// Result reports the outcome of Ingest.
type Result int

const (
	// Applied means the envelope was new and has been projected.
	Applied Result = iota
	// Duplicate means the envelope's ID was already present;
	// ingestion is a no-op (I4).
	Duplicate
)

func (r Result) String() string {
	if r == Applied {
		return "applied"
	}
	return "duplicate"
}

// ErrClockRegression is returned by Ingest when an envelope's own
// author-counter does not exceed the counter this log already holds
// for that author — a corruption signal distinct from a benign
// duplicate (§7).
var ErrClockRegression = fmt.Errorf("eventlog: author clock regression")

// Store is the append-only event log and materialized-state
// projection (C5). It owns one SQLite database: the applied_events
// and vector_clock tables plus one projection table per event family.
// AppendLocal and Ingest each run inside a single IMMEDIATE
// transaction, giving the linearizable ordering §5 requires regardless
// of how many goroutines call concurrently; Clock and EventsSince are
// plain reads outside any explicit transaction.
type Store struct {
	pool        *sqlitepool.Pool
	logger      *slog.Logger
	localDevice string
}

// Config holds the parameters for opening an event log.
type Config struct {
	// Path is the filesystem path to the SQLite database file (see
	// spec §6.5: "sync/state.db"). Required.
	Path string

	// LocalDevice is this device's own identity, used to recognize
	// TabSent envelopes addressed to "self" during projection (§4.5).
	// Required.
	LocalDevice deviceid.DeviceID

	// PoolSize is the number of pooled connections. Zero or negative
	// uses sqlitepool's default, max(runtime.NumCPU(), 4).
	PoolSize int

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Open creates or opens the event log database, creating the schema
// on first use.
func Open(cfg Config) (*Store, error) {
	if cfg.LocalDevice.IsZero() {
		return nil, fmt.Errorf("eventlog: LocalDevice is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return createSchema(conn)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("eventlog: %w", err)
	}

	return &Store{pool: pool, logger: logger, localDevice: cfg.LocalDevice.String()}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// AppendLocal ticks the clock for device, builds the resulting
// envelope, persists and projects it in one transaction, and returns
// it. This is the only path that advances a device's own counter
// (I1).
func (s *Store) AppendLocal(ctx context.Context, device deviceid.DeviceID, event envelope.Event, now time.Time) (envelope.Envelope, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("eventlog: append_local: %w", err)
	}
	defer s.pool.Put(conn)

	endTx, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("eventlog: append_local: begin: %w", err)
	}
	defer endTx(&err)

	current, err := readClock(conn)
	if err != nil {
		return envelope.Envelope{}, err
	}

	ticked := current.Tick(device.String())
	env := envelope.New(device, ticked, event, now)

	if err := s.persistAndProject(conn, env); err != nil {
		return envelope.Envelope{}, err
	}

	return env, nil
}

// Ingest applies a remote envelope, idempotently. On a first sighting
// of env.ID it merges the clock, projects the event, and returns
// Applied. On a repeat of an already-applied ID it returns Duplicate
// without modifying any state (P2). An envelope whose author-counter
// does not exceed what this log already holds for that author is
// rejected as a clock regression rather than silently ignored — a
// distinct failure from ordinary duplicate delivery (§7).
func (s *Store) Ingest(ctx context.Context, env envelope.Envelope) (result Result, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("eventlog: ingest: %w", err)
	}
	defer s.pool.Put(conn)

	endTx, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("eventlog: ingest: begin: %w", err)
	}
	defer endTx(&err)

	exists, err := eventExists(conn, env.ID)
	if err != nil {
		return 0, err
	}
	if exists {
		return Duplicate, nil
	}

	current, err := readClock(conn)
	if err != nil {
		return 0, err
	}
	if env.AuthorCounter() <= current.Get(env.Device.String()) {
		return 0, fmt.Errorf("%w: device %s counter %d, log already at %d",
			ErrClockRegression, env.Device, env.AuthorCounter(), current.Get(env.Device.String()))
	}

	if err := s.persistAndProject(conn, env); err != nil {
		return 0, err
	}

	return Applied, nil
}

// Clock returns a snapshot of the persisted vector clock.
func (s *Store) Clock(ctx context.Context) (vectorclock.Clock, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return vectorclock.Clock{}, fmt.Errorf("eventlog: clock: %w", err)
	}
	defer s.pool.Put(conn)

	return readClock(conn)
}

// EventsSince returns every envelope this log holds that is new to a
// peer reporting remote — i.e. e such that e.Clock.Get(e.Device) >
// remote.Get(e.Device) — ordered by the total replay order (§4.5).
func (s *Store) EventsSince(ctx context.Context, remote vectorclock.Clock) ([]envelope.Envelope, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("eventlog: events_since: %w", err)
	}
	defer s.pool.Put(conn)

	var envelopes []envelope.Envelope
	err = sqlitex.Execute(conn,
		"SELECT device, author_counter, id, timestamp, clock, event_type, event_data FROM applied_events",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				device := stmt.ColumnText(0)
				counter := uint64(stmt.ColumnInt64(1))
				if !remote.Dominates(device, counter) {
					return nil
				}
				env, err := scanEnvelope(stmt)
				if err != nil {
					return err
				}
				envelopes = append(envelopes, env)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("eventlog: events_since: %w", err)
	}

	envelope.SortForReplay(envelopes)
	return envelopes, nil
}

func eventExists(conn *sqlite.Conn, id eventid.EventID) (bool, error) {
	var exists bool
	err := sqlitex.Execute(conn, "SELECT 1 FROM applied_events WHERE id = ? LIMIT 1", &sqlitex.ExecOptions{
		Args: []any{id.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			exists = true
			return nil
		},
	})
	if err != nil {
		return false, fmt.Errorf("eventlog: check existing id: %w", err)
	}
	return exists, nil
}

func readClock(conn *sqlite.Conn) (vectorclock.Clock, error) {
	counts := make(map[string]uint64)
	err := sqlitex.Execute(conn, "SELECT device, counter FROM vector_clock", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			counts[stmt.ColumnText(0)] = uint64(stmt.ColumnInt64(1))
			return nil
		},
	})
	if err != nil {
		return vectorclock.Clock{}, fmt.Errorf("eventlog: read clock: %w", err)
	}
	return vectorclock.FromMap(counts), nil
}

func writeClockEntry(conn *sqlite.Conn, device string, counter uint64) error {
	return sqlitex.Execute(conn,
		`INSERT INTO vector_clock (device, counter) VALUES (?, ?)
		 ON CONFLICT(device) DO UPDATE SET counter = excluded.counter WHERE excluded.counter > vector_clock.counter`,
		&sqlitex.ExecOptions{Args: []any{device, int64(counter)}})
}

// persistAndProject inserts env into applied_events, advances the
// vector clock for every device the envelope's clock mentions, and
// projects the event into its family table — all within the caller's
// already-open transaction. If projection fails the caller's deferred
// rollback discards everything, matching §4.5's "projection is
// wrapped in a single transaction per envelope."
func (s *Store) persistAndProject(conn *sqlite.Conn, env envelope.Envelope) error {
	clockJSON, err := json.Marshal(env.Clock)
	if err != nil {
		return fmt.Errorf("eventlog: marshal clock: %w", err)
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO applied_events (id, device, author_counter, timestamp, clock, clock_sum, event_type, event_data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			env.ID.String(),
			env.Device.String(),
			int64(env.AuthorCounter()),
			env.Timestamp.Canonical(),
			string(clockJSON),
			int64(env.Clock.Sum()),
			string(env.Event.Type),
			string(env.Event.Data),
		}})
	if err != nil {
		return fmt.Errorf("eventlog: insert applied event: %w", err)
	}

	for _, device := range env.Clock.Devices() {
		if err := writeClockEntry(conn, device, env.Clock.Get(device)); err != nil {
			return fmt.Errorf("eventlog: advance clock: %w", err)
		}
	}

	if err := project(conn, env, s.localDevice); err != nil {
		return fmt.Errorf("eventlog: project %s: %w", env.Event.Type, err)
	}

	return nil
}

func scanEnvelope(stmt *sqlite.Stmt) (envelope.Envelope, error) {
	deviceID, err := deviceid.Parse(stmt.ColumnText(0))
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("eventlog: scan device: %w", err)
	}

	id, err := eventid.Parse(stmt.ColumnText(2))
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("eventlog: scan id: %w", err)
	}

	var ts envelope.Timestamp
	if err := json.Unmarshal([]byte(`"`+stmt.ColumnText(3)+`"`), &ts); err != nil {
		return envelope.Envelope{}, fmt.Errorf("eventlog: scan timestamp: %w", err)
	}

	var clock vectorclock.Clock
	if err := json.Unmarshal([]byte(stmt.ColumnText(4)), &clock); err != nil {
		return envelope.Envelope{}, fmt.Errorf("eventlog: scan clock: %w", err)
	}

	return envelope.Envelope{
		ID:        id,
		Timestamp: ts,
		Device:    deviceID,
		Clock:     clock,
		Event: envelope.Event{
			Type: envelope.Type(stmt.ColumnText(5)),
			Data: []byte(stmt.ColumnText(6)),
		},
	}, nil
}
