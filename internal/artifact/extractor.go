package artifact

import (
	"context"
	"sync"

	"github.com/kiranshivaraju/dupreaper/internal/dedup"
	"github.com/kiranshivaraju/dupreaper/pkg/models"
	"github.com/kiranshivaraju/dupreaper/pkg/spl"
)

// Extractor records every extraction for one window to CSV before handing the
// candidates on. Export failures are logged and never fail the extraction.
type Extractor struct {
	inner    dedup.ResultExtractor
	exporter *Exporter
	scope    spl.Scope

	mu   sync.Mutex
	path string
}

// Wrap decorates inner so that its results for scope are exported.
func (e *Exporter) Wrap(inner dedup.ResultExtractor, scope spl.Scope) *Extractor {
	return &Extractor{inner: inner, exporter: e, scope: scope}
}

func (x *Extractor) Extract(ctx context.Context, sid string) ([]models.Candidate, error) {
	records, err := x.inner.Extract(ctx, sid)
	if err != nil {
		return nil, err
	}

	path, werr := x.exporter.Write(x.scope, records)
	if werr != nil {
		x.exporter.logger.Error("exporting discovery results failed", "sid", sid, "error", werr)
		return records, nil
	}

	x.mu.Lock()
	x.path = path
	x.mu.Unlock()
	return records, nil
}

// Finish archives the exported CSV, if any. It is called once the window's
// deletion phase is over.
func (x *Extractor) Finish() {
	x.mu.Lock()
	path := x.path
	x.path = ""
	x.mu.Unlock()

	if path == "" {
		return
	}
	if _, err := x.exporter.Archive(x.scope, path); err != nil {
		x.exporter.logger.Error("archiving discovery results failed", "file", path, "error", err)
	}
}

var _ dedup.ResultExtractor = (*Extractor)(nil)
