package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	publisher "github.com/JakeFAU/webaudit/internal/publisher/pubsub"
)

type event struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (e event) Attributes() map[string]string {
	return map[string]string{"job_id": e.JobID}
}

func newTestClient(t *testing.T) *pubsub.Client {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPublishDeliversJSON(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := newTestClient(t)
	topic, err := client.CreateTopic(ctx, "audit-events")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "audit-events-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	pub, err := publisher.New(client, "audit-events")
	require.NoError(t, err)
	defer pub.Close()
	require.NoError(t, pub.CheckTopic(ctx))

	id, err := pub.Publish(ctx, "", event{JobID: "job-1", Status: "succeeded"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	received := make(chan *pubsub.Message, 1)
	recvCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = sub.Receive(recvCtx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			select {
			case received <- msg:
			default:
			}
		})
	}()

	select {
	case msg := <-received:
		var got event
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, event{JobID: "job-1", Status: "succeeded"}, got)
		assert.Equal(t, "job-1", msg.Attributes["job_id"])
		assert.Equal(t, "application/json", msg.Attributes["content-type"])
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}

func TestCheckTopicMissing(t *testing.T) {
	client := newTestClient(t)
	pub, err := publisher.New(client, "missing")
	require.NoError(t, err)
	require.Error(t, pub.CheckTopic(context.Background()))
}

func TestNewRequiresClient(t *testing.T) {
	_, err := publisher.New(nil, "topic")
	require.Error(t, err)
}

func TestPublishWithoutTopic(t *testing.T) {
	pub, err := publisher.New(newTestClient(t), "")
	require.NoError(t, err)
	_, err = pub.Publish(context.Background(), "", event{})
	require.Error(t, err)
}
