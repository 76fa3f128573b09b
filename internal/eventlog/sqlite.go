package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quantarax/cats/internal/observability"
	"github.com/quantarax/cats/internal/transport"
)

var ErrStoreClosed = errors.New("event store closed")

// SQLiteStore keeps every event of a run in an SQLite table for later
// queries. Inserts are buffered and written in batches by a background
// goroutine so Record never waits on disk.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *observability.Logger

	mu     sync.Mutex
	buf    []transport.Event
	closed bool

	stop chan struct{}
	done chan struct{}
}

const flushInterval = 200 * time.Millisecond

// OpenSQLiteStore opens (or creates) the database at dbPath.
func OpenSQLiteStore(dbPath string, logger *observability.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single writer avoids SQLITE_BUSY between batches
	db.SetMaxOpenConns(1)

	if logger == nil {
		logger = observability.NewNopLogger()
	}
	st := &SQLiteStore{
		db:     db,
		path:   dbPath,
		logger: logger,
		stop:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	if err := st.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	go st.run()
	return st, nil
}

func (st *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TIMESTAMP NOT NULL,
			role TEXT NOT NULL,
			session_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			seq_num INTEGER NOT NULL,
			priority TEXT,
			payload_size INTEGER NOT NULL,
			queue TEXT,
			cwnd INTEGER NOT NULL,
			in_flight INTEGER NOT NULL,
			retry INTEGER NOT NULL,
			peer TEXT,
			info TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_events_session_type ON events(session_id, event_type);
	`
	if _, err := st.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Record queues e for insertion.
func (st *SQLiteStore) Record(e transport.Event) {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.buf = append(st.buf, e)
	st.mu.Unlock()
}

// Flush writes all queued events now.
func (st *SQLiteStore) Flush(ctx context.Context) error {
	st.mu.Lock()
	batch := st.buf
	st.buf = nil
	st.mu.Unlock()
	return st.insert(ctx, batch)
}

func (st *SQLiteStore) run() {
	defer close(st.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-st.stop:
			return
		}
		if err := st.Flush(context.Background()); err != nil {
			st.logger.Error(err, "failed to persist events")
		}
	}
}

func (st *SQLiteStore) insert(ctx context.Context, batch []transport.Event) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events
		(ts, role, session_id, event_type, seq_num, priority, payload_size, queue, cwnd, in_flight, retry, peer, info)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.ExecContext(ctx,
			e.Time.UTC(),
			e.Role,
			e.Session,
			e.Type.String(),
			int64(e.SeqNum),
			e.Priority,
			e.PayloadSize,
			e.Queue,
			e.Cwnd,
			e.InFlight,
			e.Retry,
			e.Peer,
			e.Info,
		); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}
	return tx.Commit()
}

// CountByType returns the number of events of each type recorded for
// session. An empty session counts every session.
func (st *SQLiteStore) CountByType(ctx context.Context, session string) (map[string]int, error) {
	query := "SELECT event_type, COUNT(*) FROM events"
	var args []any
	if session != "" {
		query += " WHERE session_id = ?"
		args = append(args, session)
	}
	query += " GROUP BY event_type"

	rows, err := st.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}

// Sessions lists the session ids present in the store.
func (st *SQLiteStore) Sessions(ctx context.Context) ([]string, error) {
	rows, err := st.db.QueryContext(ctx, "SELECT DISTINCT session_id FROM events ORDER BY session_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Close stops the background writer, persists what is left and closes the
// database. Events recorded after Close are discarded.
func (st *SQLiteStore) Close() error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return ErrStoreClosed
	}
	st.closed = true
	st.mu.Unlock()

	st.stop <- struct{}{}
	<-st.done

	err := st.Flush(context.Background())
	return errors.Join(err, st.db.Close())
}
