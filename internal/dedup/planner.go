package dedup

import (
	"fmt"

	"github.com/kiranshivaraju/dupreaper/pkg/models"
	"github.com/kiranshivaraju/dupreaper/pkg/spl"
)

// Batch is a bounded group of candidates and the deletion query covering them.
type Batch struct {
	Index   int
	Records []models.Candidate
	Query   string
}

// Planner partitions candidates into batches. It is deterministic and does no I/O.
type Planner struct {
	builder spl.QueryBuilder
	scope   spl.Scope
}

func NewPlanner(builder spl.QueryBuilder, scope spl.Scope) Planner {
	return Planner{builder: builder, scope: scope}
}

// Plan splits records into consecutive batches of batchSize; only the last
// batch may be smaller. Records are not deduplicated.
func (p Planner) Plan(records []models.Candidate, batchSize int) ([]Batch, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, batchSize)
	}

	batches := make([]Batch, 0, (len(records)+batchSize-1)/batchSize)
	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		group := records[start:end:end]
		batches = append(batches, Batch{
			Index:   len(batches),
			Records: group,
			Query:   p.builder.BuildDeleteQuery(p.scope, group),
		})
	}
	return batches, nil
}
