// Request-event tracker backed by sqlite.
//
// DESIGN: Handlers enqueue events on a buffered channel and never block on
// disk; one writer goroutine owns the database. When the queue is full the
// event is dropped and counted, not the request delayed.
package monitoring

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const trackerQueueSize = 256

const trackerSchema = `
CREATE TABLE IF NOT EXISTS request_events (
	request_id       TEXT NOT NULL,
	ts               TEXT NOT NULL,
	mode             TEXT NOT NULL,
	target           TEXT NOT NULL,
	outcome          TEXT NOT NULL,
	error_kind       TEXT,
	reasoning_tokens INTEGER,
	answer_tokens    INTEGER,
	latency_ms       INTEGER
);
CREATE INDEX IF NOT EXISTS idx_request_events_ts ON request_events(ts);
`

// RequestEvent is one completed relay request.
type RequestEvent struct {
	RequestID       string
	Timestamp       time.Time
	Mode            string // "blocking" or "streaming"
	Target          string
	Outcome         string // "success" or "error"
	ErrorKind       string
	ReasoningTokens int
	AnswerTokens    int
	Latency         time.Duration
}

// Tracker persists request events. A nil *Tracker records nothing.
type Tracker struct {
	db      *sql.DB
	queue   chan RequestEvent
	metrics *Metrics
	wg      sync.WaitGroup
}

// NewTracker opens (or creates) the event store at path.
func NewTracker(path string, metrics *Metrics) (*Tracker, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry store: %w", err)
	}
	if _, err := db.Exec(trackerSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init telemetry schema: %w", err)
	}

	t := &Tracker{
		db:      db,
		queue:   make(chan RequestEvent, trackerQueueSize),
		metrics: metrics,
	}
	t.wg.Add(1)
	go t.writeLoop()
	return t, nil
}

// Record enqueues one event, dropping it when the queue is full.
func (t *Tracker) Record(ev RequestEvent) {
	if t == nil {
		return
	}
	select {
	case t.queue <- ev:
	default:
		t.metrics.RecordTrackerDrop()
	}
}

// Close flushes pending events and closes the store.
func (t *Tracker) Close() error {
	if t == nil {
		return nil
	}
	close(t.queue)
	t.wg.Wait()
	return t.db.Close()
}

func (t *Tracker) writeLoop() {
	defer t.wg.Done()
	for ev := range t.queue {
		_, err := t.db.Exec(
			`INSERT INTO request_events
			 (request_id, ts, mode, target, outcome, error_kind, reasoning_tokens, answer_tokens, latency_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.RequestID,
			ev.Timestamp.UTC().Format(time.RFC3339Nano),
			ev.Mode,
			ev.Target,
			ev.Outcome,
			ev.ErrorKind,
			ev.ReasoningTokens,
			ev.AnswerTokens,
			ev.Latency.Milliseconds(),
		)
		if err != nil {
			log.Warn().Err(err).Str("request_id", ev.RequestID).Msg("telemetry write failed")
		}
	}
}

// RecentEvents returns up to limit most recent events, newest first. Used by
// tests and ad hoc inspection.
func (t *Tracker) RecentEvents(limit int) ([]RequestEvent, error) {
	rows, err := t.db.Query(
		`SELECT request_id, ts, mode, target, outcome, COALESCE(error_kind, ''),
		        reasoning_tokens, answer_tokens, latency_ms
		 FROM request_events ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []RequestEvent
	for rows.Next() {
		var ev RequestEvent
		var ts string
		var latencyMs int64
		if err := rows.Scan(&ev.RequestID, &ts, &ev.Mode, &ev.Target, &ev.Outcome,
			&ev.ErrorKind, &ev.ReasoningTokens, &ev.AnswerTokens, &latencyMs); err != nil {
			return nil, err
		}
		ev.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		ev.Latency = time.Duration(latencyMs) * time.Millisecond
		out = append(out, ev)
	}
	return out, rows.Err()
}
