package recorder

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started_at DATETIME NOT NULL,
	metadata TEXT
);
CREATE TABLE IF NOT EXISTS cases (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	coordinate TEXT NOT NULL,
	timestamp DATETIME,
	success INTEGER NOT NULL,
	msg TEXT,
	params TEXT,
	unknowns TEXT,
	resids TEXT
);
CREATE INDEX IF NOT EXISTS idx_cases_run ON cases(run_id, seq);
`

// SQLiteRecorder stores one row per case. Variable values are JSON objects
// keyed by name.
type SQLiteRecorder struct {
	Filter *Filter

	db    *sql.DB
	path  string
	runID string
	seq   int
}

func NewSQLiteRecorder(path string, filter *Filter) (*SQLiteRecorder, error) {
	if filter == nil {
		filter = &Filter{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &SQLiteRecorder{Filter: filter, db: db, path: path}, nil
}

// RunID identifies the rows written since the last Startup.
func (s *SQLiteRecorder) RunID() string {
	return s.runID
}

func (s *SQLiteRecorder) Startup(meta Metadata) error {
	if s.db == nil {
		return ErrClosed
	}
	filtered := meta
	filtered.Params = s.Filter.Select(meta.Params)
	filtered.Unknowns = s.Filter.Select(meta.Unknowns)
	filtered.Resids = s.Filter.Select(meta.Resids)
	data, err := json.Marshal(filtered)
	if err != nil {
		return err
	}

	s.runID = uuid.NewString()
	s.seq = 0
	_, err = s.db.Exec(`INSERT INTO runs (id, started_at, metadata) VALUES (?, ?, ?)`,
		s.runID, time.Now().UTC(), string(data))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func (s *SQLiteRecorder) Record(c *Case) error {
	if s.db == nil {
		return ErrClosed
	}
	if s.runID == "" {
		if err := s.Startup(Metadata{}); err != nil {
			return err
		}
	}
	fc := s.Filter.Apply(c)

	sections := make([]string, 3)
	for i, vars := range [][]Var{fc.Params, fc.Unknowns, fc.Resids} {
		data, err := encodeVars(vars)
		if err != nil {
			return fmt.Errorf("encode case %s: %w", fc.Coordinate, err)
		}
		sections[i] = data
	}

	s.seq++
	_, err := s.db.Exec(`INSERT INTO cases
		(run_id, seq, coordinate, timestamp, success, msg, params, unknowns, resids)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, s.seq, fc.Coordinate.String(), fc.Timestamp.UTC(), fc.Success, fc.Msg,
		sections[0], sections[1], sections[2])
	if err != nil {
		return fmt.Errorf("failed to insert case: %w", err)
	}
	return nil
}

func (s *SQLiteRecorder) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// encodeVars writes vars as a JSON object. Values that JSON cannot
// represent are stored as their printed form.
func encodeVars(vars []Var) (string, error) {
	m := make(map[string]json.RawMessage, len(vars))
	for _, v := range vars {
		data, err := json.Marshal(v.Value)
		if err != nil {
			data, err = json.Marshal(fmt.Sprint(v.Value))
			if err != nil {
				return "", err
			}
		}
		m[v.Name] = data
	}
	data, err := json.Marshal(m)
	return string(data), err
}

// StoredCase is a case read back from a SQLite recording.
type StoredCase struct {
	RunID      string
	Seq        int
	Coordinate string
	Success    bool
	Msg        string
	Params     map[string]json.RawMessage
	Unknowns   map[string]json.RawMessage
	Resids     map[string]json.RawMessage
}

// ReadCases loads every case of runID from the database at path in
// recording order. An empty runID reads the most recent run.
func ReadCases(path, runID string) ([]StoredCase, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if runID == "" {
		row := db.QueryRow(`SELECT id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`)
		if err := row.Scan(&runID); err != nil {
			return nil, fmt.Errorf("no runs in %s: %w", path, err)
		}
	}

	rows, err := db.Query(`SELECT seq, coordinate, success, msg, params, unknowns, resids
		FROM cases WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredCase
	for rows.Next() {
		sc := StoredCase{RunID: runID}
		var msg sql.NullString
		var params, unknowns, resids string
		if err := rows.Scan(&sc.Seq, &sc.Coordinate, &sc.Success, &msg, &params, &unknowns, &resids); err != nil {
			return nil, err
		}
		sc.Msg = msg.String
		for _, dst := range []struct {
			src string
			m   *map[string]json.RawMessage
		}{{params, &sc.Params}, {unknowns, &sc.Unknowns}, {resids, &sc.Resids}} {
			if err := json.Unmarshal([]byte(dst.src), dst.m); err != nil {
				return nil, fmt.Errorf("case %d: %w", sc.Seq, err)
			}
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
