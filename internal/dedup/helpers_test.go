package dedup_test

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/dupreaper/internal/dedup"
	"github.com/kiranshivaraju/dupreaper/pkg/models"
	"github.com/kiranshivaraju/dupreaper/pkg/spl"
)

var testScope = spl.Scope{
	Index:    "main",
	Earliest: time.Unix(1708128000, 0),
	Latest:   time.Unix(1708128600, 0),
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func candidates(n int) []models.Candidate {
	out := make([]models.Candidate, n)
	for i := range out {
		out[i] = models.Candidate{
			EventID:  fmt.Sprintf("evt-%05d", i),
			DedupKey: fmt.Sprintf("7:%d", 1000+i),
		}
	}
	return out
}

func testConfig(batchSize, workers int) dedup.Config {
	return dedup.Config{
		DiscoveryQuery:   spl.NewQueryBuilder().BuildDiscoveryQuery(testScope),
		Scope:            testScope,
		TTL:              2 * time.Second,
		PollInterval:     time.Millisecond,
		BatchSize:        batchSize,
		MaxWorkers:       workers,
		MaxCheckFailures: 3,
	}
}

func planBatches(records []models.Candidate, size int) []dedup.Batch {
	batches, err := dedup.NewPlanner(spl.NewQueryBuilder(), testScope).Plan(records, size)
	if err != nil {
		panic(err)
	}
	return batches
}
