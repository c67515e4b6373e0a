package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestPublishDeliversJSON(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close() //nolint:errcheck

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close() //nolint:errcheck

	_, err = client.CreateTopic(ctx, "runs")
	require.NoError(t, err)

	pub := New(client)
	id, err := pub.Publish(ctx, "runs", map[string]any{"run_id": "run-1", "written": 3})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, pub.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "application/json", msgs[0].Attributes["content_type"])
	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "run-1", got["run_id"])
	assert.InDelta(t, 3, got["written"], 0)
}

func TestPublishUnknownTopicFails(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close() //nolint:errcheck

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close() //nolint:errcheck

	pub := New(client)
	defer pub.Close() //nolint:errcheck
	_, err = pub.Publish(ctx, "missing", "payload")
	require.ErrorContains(t, err, "publish message")
}

func TestPublishWithoutClient(t *testing.T) {
	t.Parallel()

	var pub *Publisher
	_, err := pub.Publish(context.Background(), "runs", "x")
	require.Error(t, err)
	require.NoError(t, pub.Close())
}
