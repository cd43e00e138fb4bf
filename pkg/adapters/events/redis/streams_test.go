package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/velodago/pkg/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestNewStreamsEventBusRequiresConsumer(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := NewStreamsEventBus(client, "", "c1", 0, zaptest.NewLogger(t))
	assert.Error(t, err)
	_, err = NewStreamsEventBus(client, "g1", "", 0, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestStreamsEventBusPublishAppendsToStream(t *testing.T) {
	client, mr := newTestClient(t)
	bus, err := NewStreamsEventBus(client, "velodago", "c1", 100, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(ctx, domain.TopicRunEvents, domain.Event{
			ID:    "evt",
			Type:  domain.EventTypeRunSubmitted,
			RunID: "run-1",
		}))
	}

	entries, err := mr.Stream("velodago:events:run.events")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestStreamsEventBusSubscribe(t *testing.T) {
	client, _ := newTestClient(t)
	bus, err := NewStreamsEventBus(client, "velodago", "c1", 0, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// An existing group is reused.
	require.NoError(t, client.XGroupCreateMkStream(ctx, "velodago:events:step.events", "velodago", "$").Err())

	var mu sync.Mutex
	var got []domain.Event
	require.NoError(t, bus.Subscribe(ctx, domain.TopicStepEvents, func(_ context.Context, e domain.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
		return nil
	}))

	steps := []domain.StepName{domain.StepFilterAndNormalize, domain.StepMoments, domain.StepVelocity}
	for _, step := range steps {
		require.NoError(t, bus.Publish(context.Background(), domain.TopicStepEvents, domain.Event{
			ID:    string(step),
			Type:  domain.EventTypeStepCompleted,
			RunID: "run-1",
			Step:  step,
		}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(steps)
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, step := range steps {
		assert.Equal(t, step, got[i].Step)
		assert.Equal(t, "run-1", got[i].RunID)
	}
}
