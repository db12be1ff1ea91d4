package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-io/tidemark/internal/pipeline"
	"github.com/tidemark-io/tidemark/internal/transform"
)

func TestSerializeSummary(t *testing.T) {
	finished := time.Date(2026, 8, 30, 6, 15, 0, 0, time.UTC)
	summary := pipeline.Summary{
		RunID:      uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		Status:     pipeline.StatusSuccess,
		FinishedAt: finished,
		Weather:    transform.WeatherResult{RowsInserted: 24},
	}

	msg, err := serializeSummary(summary)
	require.NoError(t, err)

	assert.Equal(t, []byte("6ba7b810-9dad-11d1-80b4-00c04fd430c8"), msg.Key)
	assert.Contains(t, string(msg.Value), `"Status":"success"`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "status", msg.Headers[0].Key)
	assert.Equal(t, []byte("success"), msg.Headers[0].Value)
	assert.Equal(t, "finished_at", msg.Headers[1].Key)
	assert.Equal(t, []byte(finished.Format(time.RFC3339)), msg.Headers[1].Value)
}

func TestNilPublisherIsSafe(t *testing.T) {
	var p *Publisher

	assert.NoError(t, p.Publish(context.Background(), pipeline.Summary{}))
	assert.NoError(t, p.Close())
}

func TestNewPublisherDisabledWithoutBrokers(t *testing.T) {
	p := NewPublisher(PublisherConfig{}, nil)
	assert.Nil(t, p)
}

func TestPublisherConfigEnabled(t *testing.T) {
	assert.False(t, PublisherConfig{}.Enabled())
	assert.True(t, PublisherConfig{Brokers: []string{"localhost:9092"}}.Enabled())
}
