package sqlite

import (
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	_ "modernc.org/sqlite"

	"github.com/yegors/mlat-client/internal/coordinator"
	"github.com/yegors/mlat-client/pkg/logger"
)

const (
	queueSize     = 1024
	writeBatch    = 100
	flushInterval = time.Second

	// fixed width so text order matches time order
	timeFormat = "2006-01-02T15:04:05.000000000Z"
)

// ResultStorage persists multilateration results. Inserts are queued and
// written in batches by a background goroutine so the caller never waits on disk.
type ResultStorage struct {
	db              *sql.DB
	logger          *logger.Logger
	maxResultsInAPI int

	mu      sync.RWMutex
	closed  bool
	queue   chan coordinator.Result
	done    chan struct{}
	dropped atomic.Int64
}

// NewResultStorage opens the database, creates the schema and starts the writer
func NewResultStorage(dbPath string, maxResultsInAPI int, log *logger.Logger) (*ResultStorage, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=10000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := initDatabase(db, storageLogger); err != nil {
		db.Close()
		return nil, err
	}

	if maxResultsInAPI <= 0 {
		maxResultsInAPI = 500
	}

	s := &ResultStorage{
		db:              db,
		logger:          storageLogger,
		maxResultsInAPI: maxResultsInAPI,
		queue:           make(chan coordinator.Result, queueSize),
		done:            make(chan struct{}),
	}
	go s.writer()

	return s, nil
}

// initDatabase initializes the database schema
func initDatabase(db *sql.DB, log *logger.Logger) error {
	log.Info("Initializing database schema")

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS mlat_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			hex TEXT NOT NULL,
			timestamp TEXT NOT NULL,      -- UTC, fixed width
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			alt REAL NOT NULL,       -- feet
			callsign TEXT,
			squawk TEXT,
			error_est REAL,          -- metres
			nstations INTEGER,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create mlat_results table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_mlat_results_hex ON mlat_results(hex)`)
	if err != nil {
		return fmt.Errorf("failed to create hex index: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_mlat_results_timestamp ON mlat_results(timestamp)`)
	if err != nil {
		return fmt.Errorf("failed to create timestamp index: %w", err)
	}

	return nil
}

// SendPosition queues a result for insertion. Results are dropped when the
// queue is full or the storage is closed.
func (s *ResultStorage) SendPosition(r coordinator.Result) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- r:
	default:
		if n := s.dropped.Add(1); n%100 == 1 {
			s.logger.Warn("Result queue full, dropping results",
				logger.Int64("dropped", n))
		}
	}
}

// Heartbeat is a no-op; the writer flushes on its own ticker
func (s *ResultStorage) Heartbeat(time.Time) {}

// Disconnect drains the queue and closes the database
func (s *ResultStorage) Disconnect() {
	if err := s.Close(); err != nil {
		s.logger.Error("Failed to close result storage", Error(err))
	}
}

// Close stops accepting results, waits for queued results to be written and
// closes the database
func (s *ResultStorage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return s.db.Close()
}

func (s *ResultStorage) writer() {
	defer close(s.done)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	pending := make([]coordinator.Result, 0, writeBatch)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := s.insertBatch(pending); err != nil {
			s.logger.Error("Failed to store results",
				logger.Int("count", len(pending)),
				Error(err))
		}
		pending = pending[:0]
	}

	for {
		select {
		case r, ok := <-s.queue:
			if !ok {
				flush()
				return
			}
			pending = append(pending, r)
			if len(pending) >= writeBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// insertBatch inserts results in a single transaction
func (s *ResultStorage) insertBatch(results []coordinator.Result) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, tx.Rollback())
		}
	}()

	stmt, err := tx.Prepare(`
		INSERT INTO mlat_results (hex, timestamp, lat, lon, alt, callsign, squawk, error_est, nstations)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		_, err = stmt.Exec(
			r.Hex(),
			r.Timestamp.UTC().Format(timeFormat),
			r.Latitude,
			r.Longitude,
			r.Altitude,
			r.Callsign,
			r.Squawk,
			r.ErrorEstimate,
			r.Stations,
		)
		if err != nil {
			return fmt.Errorf("failed to insert result for %s: %w", r.Hex(), err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results batch: %w", err)
	}

	s.logger.Debug("Stored results batch",
		logger.Int("count", len(results)))

	return nil
}

// Recent returns the newest results, newest first. An empty hex matches every aircraft.
func (s *ResultStorage) Recent(hex string, limit int) ([]coordinator.Result, error) {
	if limit <= 0 || limit > s.maxResultsInAPI {
		limit = s.maxResultsInAPI
	}

	query := `SELECT hex, timestamp, lat, lon, alt, callsign, squawk, error_est, nstations
		FROM mlat_results`
	args := []any{}
	if hex != "" {
		query += ` WHERE hex = ?`
		args = append(args, hex)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	results := make([]coordinator.Result, 0, limit)
	for rows.Next() {
		var (
			r        coordinator.Result
			rowHex   string
			ts       string
			callsign sql.NullString
			squawk   sql.NullString
			errEst   sql.NullFloat64
			stations sql.NullInt64
		)
		if err := rows.Scan(&rowHex, &ts, &r.Latitude, &r.Longitude, &r.Altitude,
			&callsign, &squawk, &errEst, &stations); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}

		addr, err := strconv.ParseUint(rowHex, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid stored address %q: %w", rowHex, err)
		}
		r.Address = uint32(addr)

		if r.Timestamp, err = time.Parse(timeFormat, ts); err != nil {
			return nil, fmt.Errorf("invalid stored timestamp %q: %w", ts, err)
		}
		r.Callsign = callsign.String
		r.Squawk = squawk.String
		r.ErrorEstimate = errEst.Float64
		r.Stations = int(stations.Int64)

		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating result rows: %w", err)
	}

	return results, nil
}

// Count returns the number of stored results
func (s *ResultStorage) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM mlat_results`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count results: %w", err)
	}
	return n, nil
}

// Import logger functions
var (
	String = logger.String
	Error  = logger.Error
)
