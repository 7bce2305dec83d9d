package reliability

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailureLog(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("records and retrieves failures", func(t *testing.T) {
		log := NewFailureLog(10, WithFailureClock(func() time.Time { return fixed }))

		id := log.Record(Failure{Op: "deliver", Target: "a@b.com", Attempts: 3, Error: "smtp down"})
		require.NotEmpty(t, id)

		f, err := log.Get(id)
		require.NoError(t, err)
		assert.Equal(t, "a@b.com", f.Target)
		assert.Equal(t, fixed, f.OccurredAt)

		_, err = log.Get("missing")
		assert.ErrorIs(t, err, ErrFailureNotFound)
	})

	t.Run("overwrites oldest entries when full", func(t *testing.T) {
		log := NewFailureLog(3)
		for i := 0; i < 5; i++ {
			log.Record(Failure{Op: "deliver", Target: fmt.Sprintf("user%d@b.com", i)})
		}

		recent := log.Recent(0)
		require.Len(t, recent, 3)
		assert.Equal(t, "user4@b.com", recent[0].Target)
		assert.Equal(t, "user2@b.com", recent[2].Target)

		stats := log.Stats()
		assert.Equal(t, int64(5), stats.Total)
		assert.Equal(t, 3, stats.Retained)
		assert.Equal(t, int64(5), stats.ByOp["deliver"])
		assert.NotNil(t, stats.Last)
	})

	t.Run("limits recent results", func(t *testing.T) {
		log := NewFailureLog(5)
		log.Record(Failure{Target: "first"})
		log.Record(Failure{Target: "second"})

		recent := log.Recent(1)
		require.Len(t, recent, 1)
		assert.Equal(t, "second", recent[0].Target)
	})

	t.Run("empty log", func(t *testing.T) {
		log := NewFailureLog(0)

		assert.Empty(t, log.Recent(10))
		stats := log.Stats()
		assert.Zero(t, stats.Total)
		assert.Nil(t, stats.Last)
	})
}
