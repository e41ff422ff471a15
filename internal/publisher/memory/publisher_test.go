package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "job-events", map[string]string{"type": "job.completed"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	_, err = pub.Publish(context.Background(), "audit", "payload")
	require.NoError(t, err)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	msgs[0].Topic = "modified"
	require.Equal(t, "job-events", pub.Messages()[0].Topic)
	require.Len(t, pub.OnTopic("job-events"), 1)
	require.Empty(t, pub.OnTopic("nope"))
}
