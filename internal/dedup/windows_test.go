package dedup_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/dupreaper/internal/dedup"
)

func TestWindows(t *testing.T) {
	start := time.Date(2024, 2, 17, 0, 0, 0, 0, time.UTC)

	t.Run("even split", func(t *testing.T) {
		w := dedup.Windows(start, start.Add(30*time.Minute), 10*time.Minute)
		require.Len(t, w, 3)
		assert.Equal(t, start, w[0].Earliest)
		assert.Equal(t, start.Add(30*time.Minute), w[2].Latest)
		for i := 1; i < len(w); i++ {
			assert.Equal(t, w[i-1].Latest, w[i].Earliest)
		}
	})

	t.Run("last window truncated", func(t *testing.T) {
		w := dedup.Windows(start, start.Add(25*time.Minute), 10*time.Minute)
		require.Len(t, w, 3)
		assert.Equal(t, 5*time.Minute, w[2].Latest.Sub(w[2].Earliest))
	})

	t.Run("empty range", func(t *testing.T) {
		assert.Empty(t, dedup.Windows(start, start, time.Minute))
		assert.Empty(t, dedup.Windows(start, start.Add(-time.Minute), time.Minute))
	})

	t.Run("non-positive size", func(t *testing.T) {
		w := dedup.Windows(start, start.Add(time.Hour), 0)
		require.Len(t, w, 1)
		assert.Equal(t, start.Add(time.Hour), w[0].Latest)
	})
}
