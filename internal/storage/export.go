package storage

import (
	"encoding/json"
	"io"
	"os"
)

type ExportData struct {
	Run         RunMetadata `json:"run"`
	Columns     []string    `json:"columns"`
	Coordinates []string    `json:"coordinates"`
	Success     []bool      `json:"success"`
	Rows        [][]float64 `json:"rows"`
}

func (s *Store) exportData(runID string) (*ExportData, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, err
	}
	h, err := s.LoadHistory(runID)
	if err != nil {
		return nil, err
	}
	return &ExportData{
		Run:         *meta,
		Columns:     h.Columns,
		Coordinates: h.Coordinates,
		Success:     h.Success,
		Rows:        h.Rows,
	}, nil
}

// ExportJSON writes a run's metadata and cases to path, or to stdout when
// path is "-".
func (s *Store) ExportJSON(runID, path string) error {
	if path == "-" {
		return s.WriteJSON(runID, os.Stdout)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return s.WriteJSON(runID, file)
}

func (s *Store) WriteJSON(runID string, w io.Writer) error {
	data, err := s.exportData(runID)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
