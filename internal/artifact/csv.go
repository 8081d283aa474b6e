// Package artifact keeps an on-disk record of discovery results: one CSV per
// time window, archived as a .tgz once the window has been processed.
package artifact

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kiranshivaraju/dupreaper/internal/config"
	"github.com/kiranshivaraju/dupreaper/pkg/models"
	"github.com/kiranshivaraju/dupreaper/pkg/spl"
)

const stampLayout = "200601021504"

// Exporter writes discovery CSVs and archives them.
type Exporter struct {
	csvDir       string
	processedDir string
	logger       *slog.Logger
}

func NewExporter(cfg config.ArtifactsConfig, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{csvDir: cfg.CSVDir, processedDir: cfg.ProcessedDir, logger: logger}
}

// FileName returns <index>_<YYYYmmddHHMM>_<YYYYmmddHHMM>_<earliest>_<latest>.csv
// for a scope, with times in UTC.
func FileName(s spl.Scope) string {
	return fmt.Sprintf("%s_%s_%s_%d_%d.csv",
		s.Index,
		s.Earliest.UTC().Format(stampLayout),
		s.Latest.UTC().Format(stampLayout),
		s.Earliest.Unix(),
		s.Latest.Unix(),
	)
}

// Write stores records as an eventID,cd CSV and returns its path.
func (e *Exporter) Write(s spl.Scope, records []models.Candidate) (string, error) {
	if err := os.MkdirAll(e.csvDir, 0o755); err != nil {
		return "", fmt.Errorf("creating csv dir: %w", err)
	}

	path := filepath.Join(e.csvDir, FileName(s))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"eventID", "cd"}); err != nil {
		return "", fmt.Errorf("writing csv header: %w", err)
	}
	for _, r := range records {
		if err := w.Write([]string{r.EventID, r.DedupKey}); err != nil {
			return "", fmt.Errorf("writing csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flushing csv: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing csv: %w", err)
	}

	e.logger.Info("discovery results exported", "file", path, "records", len(records))
	return path, nil
}

func epochDir(s spl.Scope) string {
	return fmt.Sprintf("%d_%d", s.Earliest.Unix(), s.Latest.Unix())
}
