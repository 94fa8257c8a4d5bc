package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/signal-scanner/internal/notify"
	"github.com/JakeFAU/signal-scanner/internal/signals"
)

func TestNewRequiresTopic(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{ProjectID: "proj"})
	require.Error(t, err)
}

func TestNotifyPublishesEvent(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close() //nolint:errcheck

	_, err := srv.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/proj/topics/signals"})
	require.NoError(t, err)

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck

	sink, err := New(ctx, Config{ProjectID: "proj", Topic: "signals"}, option.WithGRPCConn(conn))
	require.NoError(t, err)

	cand := signals.Candidate{
		Type:     signals.DetectionJob,
		Company:  "Acme",
		Title:    "Data Engineer",
		Location: "Berlin",
		Source:   signals.SourceAPI,
	}
	require.NoError(t, sink.Notify(ctx, cand))
	require.NoError(t, sink.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "job", msgs[0].Attributes["type"])
	require.Equal(t, "api", msgs[0].Attributes["source"])
	require.Equal(t, cand.Key().Digest(), msgs[0].Attributes["dedup_digest"])

	var ev notify.Event
	require.NoError(t, json.Unmarshal(msgs[0].Data, &ev))
	require.Equal(t, "Acme is hiring Data Engineer (Berlin)", ev.Summary)
}
