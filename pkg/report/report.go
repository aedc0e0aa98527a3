// Package report writes a JSON summary of a scrape run into the output root.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"imgscraper/pkg/scraper"
	"imgscraper/pkg/searchkey"
)

// FileName is the report's name inside the output root
const FileName = "scrape_report.json"

// Report summarises one orchestrator run
type Report struct {
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	DurationMS int64       `json:"duration_ms"`
	TotalSaved int         `json:"total_saved"`
	Failed     int         `json:"failed"`
	Keys       []KeyReport `json:"keys"`
}

// KeyReport is the outcome of a single search key
type KeyReport struct {
	Key        string   `json:"key"`
	Directory  string   `json:"directory"`
	Saved      int      `json:"saved"`
	Missed     int      `json:"missed"`
	Scrolls    int      `json:"scroll_cycles"`
	Reason     string   `json:"reason"`
	Error      string   `json:"error,omitempty"`
	Files      []string `json:"files,omitempty"`
	DurationMS int64    `json:"duration_ms"`
}

// New builds a report from outcomes; file paths are made relative to root
func New(outcomes []scraper.Outcome, started, finished time.Time, root string) *Report {
	r := &Report{
		StartedAt:  started,
		FinishedAt: finished,
		DurationMS: finished.Sub(started).Milliseconds(),
		Keys:       make([]KeyReport, 0, len(outcomes)),
	}

	for _, o := range outcomes {
		kr := KeyReport{
			Key:        string(o.Key),
			Directory:  searchkey.Sanitize(string(o.Key)),
			Saved:      o.SavedCount,
			Missed:     o.MissedCount,
			Scrolls:    o.ScrollCycles,
			Reason:     string(o.Reason),
			DurationMS: o.Duration.Milliseconds(),
		}
		if o.Err != nil {
			kr.Error = o.Err.Error()
		}
		for _, f := range o.Files {
			if rel, err := filepath.Rel(root, f); err == nil {
				f = rel
			}
			kr.Files = append(kr.Files, filepath.ToSlash(f))
		}

		r.TotalSaved += o.SavedCount
		if o.Failed() {
			r.Failed++
		}
		r.Keys = append(r.Keys, kr)
	}

	return r
}

// Write saves the report as root/scrape_report.json and returns its path
func (r *Report) Write(root string) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(root, FileName)
	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return "", fmt.Errorf("failed to rename report: %w", err)
	}

	return path, nil
}

// Load reads a report written by Write
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &r, nil
}
