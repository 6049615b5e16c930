package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/collectiond/internal/telemetry"
)

func TestSagaSpans(t *testing.T) {
	tt := telemetry.NewTestTelemetry().Install()
	h := newHarness(t)
	ctx := context.Background()

	coll := h.createCollection(t, "user1", "traced")
	_, err := h.coord.DeleteCollection(ctx, "user1", coll.ID)
	require.NoError(t, err)
	_, err = h.coord.DeleteCollection(ctx, "user1", coll.ID)
	require.NoError(t, err)

	tt.AssertSpanExists(t, "Coordinator.delete_collection")
	tt.AssertSpanAttribute(t, "Coordinator.delete_collection", "resource_id", coll.ID)
	tt.AssertSpanAttribute(t, "Coordinator.delete_collection", "outcome", OutcomeSuccess)
}
