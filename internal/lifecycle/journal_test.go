package lifecycle

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/collectiond/internal/events"
)

func TestDeleteCollection_PublishesJournal(t *testing.T) {
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go srv.Start()
	require.True(t, srv.ReadyForConnections(5*time.Second))
	t.Cleanup(srv.Shutdown)

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	journal := events.NewNATSJournal(nc, "lifecycle", nil)
	h := newHarness(t, func(d *Deps) { d.Journal = journal })
	coll := h.createCollection(t, "user1", "docs")

	sub, err := nc.SubscribeSync("lifecycle.user1.*.*")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	_, err = h.coord.DeleteCollection(context.Background(), "user1", coll.ID)
	require.NoError(t, err)

	var got []events.Event
	for {
		msg, err := sub.NextMsg(2 * time.Second)
		require.NoError(t, err)
		var e events.Event
		require.NoError(t, json.Unmarshal(msg.Data, &e))
		got = append(got, e)
		if e.Event == events.EventCompleted {
			break
		}
	}

	require.GreaterOrEqual(t, len(got), 3)
	assert.Equal(t, events.EventStarted, got[0].Event)
	assert.Equal(t, SagaDeleteCollection, got[0].Saga)
	assert.Equal(t, coll.ID, got[0].ResourceID)

	var steps []string
	for _, e := range got[1 : len(got)-1] {
		steps = append(steps, e.Step)
	}
	assert.Equal(t, []string{"resolve", "delete_blobs", "delete_file_records", "drop_table", "unregister"}, steps)
	assert.Equal(t, OutcomeSuccess, got[len(got)-1].Message)
}
