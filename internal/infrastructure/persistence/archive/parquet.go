// Package archive exports visit events to Parquet files before retention deletes them.
package archive

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/security"
	"github.com/parquet-go/parquet-go"
)

// VisitRow is the Parquet layout of one archived visit.
type VisitRow struct {
	ID          string `parquet:"id,zstd"`
	PageURL     string `parquet:"page_url,zstd"`
	IPAddress   string `parquet:"ip_address,zstd"`
	UserAgent   string `parquet:"user_agent,zstd"`
	Referer     string `parquet:"referer,optional,zstd"`
	Browser     string `parquet:"browser,zstd"`
	OS          string `parquet:"os,zstd"`
	Device      string `parquet:"device,zstd"`
	Region      string `parquet:"region,zstd"`
	VisitTimeMs int64  `parquet:"visit_time_ms"`
	DateKey     int32  `parquet:"date_key"`
	HourKey     int64  `parquet:"hour_key"`
}

// EventToRow converts a visit event to its archived form.
func EventToRow(e *analytics.VisitEvent) VisitRow {
	return VisitRow{
		ID:          e.ID,
		PageURL:     e.PageURL,
		IPAddress:   e.IPAddress,
		UserAgent:   e.UserAgent,
		Referer:     e.Referer,
		Browser:     e.Browser,
		OS:          e.OS,
		Device:      e.Device,
		Region:      e.Region,
		VisitTimeMs: e.VisitTime.UnixMilli(),
		DateKey:     int32(e.DateKey),
		HourKey:     int64(e.HourKey),
	}
}

// Writer writes batches of events into a directory, one file per batch.
type Writer struct {
	dir string
}

// NewWriter creates an archive writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Dir returns the archive directory.
func (w *Writer) Dir() string { return w.dir }

// WriteBatch writes events to a new file and returns its path. The file is
// written under a temporary name and renamed once complete, so a visible
// archive file is always whole.
func (w *Writer) WriteBatch(events []*analytics.VisitEvent) (string, error) {
	if len(events) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}

	name := fmt.Sprintf("visits-%d-%s.parquet", events[0].DateKey, security.GenerateULID())
	final := filepath.Join(w.dir, name)
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}

	rows := make([]VisitRow, len(events))
	for i, e := range events {
		rows[i] = EventToRow(e)
	}

	writer := parquet.NewGenericWriter[VisitRow](f, parquet.Compression(&parquet.Zstd))
	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("close writer: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("sync archive file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close archive file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename archive file: %w", err)
	}
	return final, nil
}

// ReadFile loads every row of an archive file.
func ReadFile(path string) ([]VisitRow, error) {
	rows, err := parquet.ReadFile[VisitRow](path)
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", path, err)
	}
	return rows, nil
}
