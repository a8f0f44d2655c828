// Package capture records every ISO-TP/OBD-II/UDS exchange crossing the bus
// to a SQLite log, for later replay and analysis.
package capture

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Direction marks which way one logged frame travelled.
type Direction string

const (
	DirectionRX Direction = "rx"
	DirectionTX Direction = "tx"
)

// Exchange is one logged request or response payload.
type Exchange struct {
	Timestamp time.Time
	ECUName   string
	CANID     uint32
	Direction Direction
	Kind      string // "obd" or "uds"
	Data      []byte
}

// Recorder persists Exchanges to a SQLite database.
type Recorder struct {
	db *sql.DB
}

// Open creates (if needed) and opens the capture database at path.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("capture: opening database: %w", err)
	}
	r := &Recorder{db: db}
	if err := r.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Recorder) initialize() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS exchanges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP NOT NULL,
		ecu_name TEXT NOT NULL,
		can_id INTEGER NOT NULL,
		direction TEXT NOT NULL,
		kind TEXT NOT NULL,
		data BLOB NOT NULL
	)`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("capture: creating schema: %w", err)
	}
	const index = `CREATE INDEX IF NOT EXISTS idx_exchanges_ecu_time ON exchanges(ecu_name, timestamp)`
	if _, err := r.db.Exec(index); err != nil {
		return fmt.Errorf("capture: creating index: %w", err)
	}
	return nil
}

// Record appends one Exchange to the log.
func (r *Recorder) Record(e Exchange) error {
	const query = `INSERT INTO exchanges (timestamp, ecu_name, can_id, direction, kind, data)
		VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := r.db.Exec(query, e.Timestamp, e.ECUName, e.CANID, string(e.Direction), e.Kind, e.Data); err != nil {
		return fmt.Errorf("capture: recording exchange: %w", err)
	}
	return nil
}

// Session returns every exchange recorded for ecuName within [start, end],
// oldest first.
func (r *Recorder) Session(ecuName string, start, end time.Time) ([]Exchange, error) {
	const query = `SELECT timestamp, ecu_name, can_id, direction, kind, data
		FROM exchanges
		WHERE ecu_name = ? AND timestamp BETWEEN ? AND ?
		ORDER BY timestamp ASC`
	rows, err := r.db.Query(query, ecuName, start, end)
	if err != nil {
		return nil, fmt.Errorf("capture: querying session: %w", err)
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var e Exchange
		var direction, kind string
		if err := rows.Scan(&e.Timestamp, &e.ECUName, &e.CANID, &direction, &kind, &e.Data); err != nil {
			return nil, fmt.Errorf("capture: scanning exchange row: %w", err)
		}
		e.Direction = Direction(direction)
		e.Kind = kind
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (r *Recorder) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("capture: closing database: %w", err)
	}
	return nil
}
