package id

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorMonotonicWithinMillisecond(t *testing.T) {
	t.Parallel()

	g := NewSeeded(42)
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	prev := ""
	for i := 0; i < 100; i++ {
		next := g.New(at)
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestGeneratorEmbedsTimestamp(t *testing.T) {
	t.Parallel()

	g := NewGenerator()
	at := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	parsed, err := ulid.Parse(g.New(at))
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(at), parsed.Time())
}
