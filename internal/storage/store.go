package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/mdao/internal/recorder"
)

var ErrNoColumn = errors.New("storage: no such column")

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID        string             `json:"id"`
	Model     string             `json:"model"`
	Timestamp time.Time          `json:"timestamp"`
	Driver    string             `json:"driver"`
	Seed      int64              `json:"seed"`
	Cases     int                `json:"cases"`
	Failed    int                `json:"failed"`
	Columns   []string           `json:"columns"`
	Options   map[string]string  `json:"options,omitempty"`
	Metrics   map[string]float64 `json:"metrics"`
}

// MetricSource supplies the metrics written when a run closes.
type MetricSource interface {
	Values() map[string]float64
}

// Recorder writes one run: a row per case in cases.csv and, on Close,
// metadata.json. Only flat unknowns are written; arrays spread over one
// column per element.
type Recorder struct {
	Filter  *recorder.Filter
	Metrics MetricSource

	store   *Store
	meta    RunMetadata
	dir     string
	file    *os.File
	w       *csv.Writer
	columns []string
}

// NewRecorder prepares a run of model. Nothing touches the disk until
// Startup.
func (s *Store) NewRecorder(model, driver string, seed int64, filter *recorder.Filter) *Recorder {
	if filter == nil {
		filter = &recorder.Filter{}
	}
	return &Recorder{
		Filter: filter,
		store:  s,
		meta: RunMetadata{
			Model:  model,
			Driver: driver,
			Seed:   seed,
		},
	}
}

// RunID is empty before Startup.
func (r *Recorder) RunID() string {
	return r.meta.ID
}

func (r *Recorder) Startup(meta recorder.Metadata) error {
	r.meta.ID = fmt.Sprintf("%s_%s", r.meta.Model, uuid.NewString()[:8])
	r.meta.Timestamp = time.Now()
	r.meta.Options = meta.Options
	r.dir = filepath.Join(r.store.baseDir, r.meta.ID)
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(r.dir, "cases.csv"))
	if err != nil {
		return err
	}
	r.file = f
	r.w = csv.NewWriter(f)
	r.columns = nil
	return nil
}

func (r *Recorder) Record(c *recorder.Case) error {
	if r.w == nil {
		return recorder.ErrClosed
	}
	fc := r.Filter.Apply(c)

	if r.columns == nil {
		r.columns = columnsOf(fc.Unknowns)
		header := append([]string{"coordinate", "success"}, r.columns...)
		if err := r.w.Write(header); err != nil {
			return err
		}
	}

	row := []string{fc.Coordinate.String(), strconv.FormatBool(fc.Success)}
	for _, v := range fc.Unknowns {
		switch x := v.Value.(type) {
		case float64:
			row = append(row, strconv.FormatFloat(x, 'g', -1, 64))
		case []float64:
			for _, e := range x {
				row = append(row, strconv.FormatFloat(e, 'g', -1, 64))
			}
		}
	}
	if len(row) != len(r.columns)+2 {
		return fmt.Errorf("storage: case %s has %d values, expected %d", fc.Coordinate, len(row)-2, len(r.columns))
	}
	if err := r.w.Write(row); err != nil {
		return err
	}

	r.meta.Cases++
	if !fc.Success {
		r.meta.Failed++
	}
	return nil
}

func columnsOf(vars []recorder.Var) []string {
	var cols []string
	for _, v := range vars {
		switch x := v.Value.(type) {
		case float64:
			cols = append(cols, v.Name)
		case []float64:
			for i := range x {
				cols = append(cols, fmt.Sprintf("%s[%d]", v.Name, i))
			}
		}
	}
	return cols
}

// Close flushes the cases and writes metadata.json.
func (r *Recorder) Close() error {
	if r.w == nil {
		return nil
	}
	r.w.Flush()
	err := r.w.Error()
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	r.w = nil
	if err != nil {
		return err
	}

	r.meta.Columns = r.columns
	r.meta.Metrics = map[string]float64{}
	if r.Metrics != nil {
		r.meta.Metrics = r.Metrics.Values()
	}

	metaFile, err := os.Create(filepath.Join(r.dir, "metadata.json"))
	if err != nil {
		return err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	return enc.Encode(r.meta)
}

func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	metaPath := filepath.Join(s.baseDir, runID, "metadata.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}

	return &meta, nil
}

// History holds the recorded cases of a run column by column.
type History struct {
	Columns     []string
	Coordinates []string
	Success     []bool
	Rows        [][]float64
}

func (s *Store) LoadHistory(runID string) (*History, error) {
	csvPath := filepath.Join(s.baseDir, runID, "cases.csv")
	file, err := os.Open(csvPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	h := &History{}
	if len(records) == 0 {
		return h, nil
	}
	if len(records[0]) >= 2 {
		h.Columns = records[0][2:]
	}

	for i := 1; i < len(records); i++ {
		record := records[i]
		if len(record) < 2 {
			continue
		}
		ok, _ := strconv.ParseBool(record[1])

		row := make([]float64, 0, len(record)-2)
		for j := 2; j < len(record); j++ {
			val, err := strconv.ParseFloat(record[j], 64)
			if err != nil {
				val = 0
			}
			row = append(row, val)
		}
		h.Coordinates = append(h.Coordinates, record[0])
		h.Success = append(h.Success, ok)
		h.Rows = append(h.Rows, row)
	}

	return h, nil
}

// Column returns one column of a run's history.
func (s *Store) Column(runID, name string) ([]float64, error) {
	h, err := s.LoadHistory(runID)
	if err != nil {
		return nil, err
	}
	return h.Column(name)
}

func (h *History) Column(name string) ([]float64, error) {
	idx := -1
	for i, c := range h.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoColumn, name)
	}
	out := make([]float64, 0, len(h.Rows))
	for _, row := range h.Rows {
		if idx < len(row) {
			out = append(out, row[idx])
		}
	}
	return out, nil
}
