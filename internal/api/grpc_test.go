package api

import (
	"context"
	"io"
	"net"
	"testing"

	"autocare/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func startBufconnServer(t *testing.T, cfg *config.APIConfig, deps Deps) (*GRPCServer, *grpc.ClientConn) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	lis := bufconn.Listen(1 << 20)

	srv, err := NewGRPCServerWithListener(cfg, deps, lis, &logger)
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return srv, conn
}

func TestGRPCHealth(t *testing.T) {
	env := newTestEnv(t)
	srv, conn := startBufconnServer(t, &config.APIConfig{Enabled: true}, env.deps)
	client := healthpb.NewHealthClient(conn)
	ctx := context.Background()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	srv.SetServing(true)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: ledgerServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestGRPCLedgerService(t *testing.T) {
	env := newTestEnv(t)
	_, conn := startBufconnServer(t, &config.APIConfig{Enabled: true}, env.deps)
	client := NewLedgerClient(conn)
	ctx := context.Background()

	created, err := client.CreateRequest(ctx, map[string]any{
		"customerId":  "c1",
		"vehicle":     "Civic",
		"serviceType": "basic",
		"urgency":     "Emergency",
		"distance":    20,
	})
	require.NoError(t, err)
	fields := created.AsMap()
	assert.Equal(t, 300.0, fields["price"])
	assert.Equal(t, "PENDING", fields["status"])
	id := fields["id"].(string)

	got, err := client.GetRequest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.AsMap()["id"])

	accepted, err := client.TransitionRequest(ctx, map[string]any{"id": id, "action": "accept", "mechanicId": "m1", "version": 1})
	require.NoError(t, err)
	assert.Equal(t, "ACCEPTED", accepted.AsMap()["status"])
	assert.Equal(t, "m1", accepted.AsMap()["mechanicId"])

	_, err = client.TransitionRequest(ctx, map[string]any{"id": id, "action": "accept"})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = client.TransitionRequest(ctx, map[string]any{"id": id, "action": "start", "version": 1})
	assert.Equal(t, codes.Aborted, status.Code(err))

	_, err = client.TransitionRequest(ctx, map[string]any{"id": id, "action": "fly"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.GetRequest(ctx, "missing")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.CreateRequest(ctx, map[string]any{"vehicle": "Civic", "serviceType": "basic", "urgency": "normal", "distance": 0})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	list, err := client.ListRequests(ctx, map[string]any{"status": "accepted"})
	require.NoError(t, err)
	assert.Len(t, list.Values, 1)

	list, err = client.ListRequests(ctx, map[string]any{"customerId": "other"})
	require.NoError(t, err)
	assert.Empty(t, list.Values)
}

func TestGRPCQuotePrice(t *testing.T) {
	env := newTestEnv(t)
	_, conn := startBufconnServer(t, &config.APIConfig{Enabled: true}, env.deps)
	client := NewLedgerClient(conn)
	ctx := context.Background()

	q, err := client.QuotePrice(ctx, map[string]any{"basePrice": 50, "distance": 20, "urgency": "normal"})
	require.NoError(t, err)
	assert.Equal(t, 250.0, q.AsMap()["total"])

	q, err = client.QuotePrice(ctx, map[string]any{"serviceType": "Basic Check", "distance": 20, "urgency": "EMERGENCY"})
	require.NoError(t, err)
	assert.Equal(t, 300.0, q.AsMap()["total"])
	assert.Equal(t, 50.0, q.AsMap()["urgencyFee"])

	_, err = client.QuotePrice(ctx, map[string]any{"distance": 1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPCAuth(t *testing.T) {
	env := newTestEnv(t)
	cfg := &config.APIConfig{
		Enabled: true,
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{{Key: "k", Extra: "e", Permissions: []string{permReadRequests}}},
		},
	}
	_, conn := startBufconnServer(t, cfg, env.deps)
	client := NewLedgerClient(conn)

	_, err := client.ListRequests(context.Background(), nil)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "k", "x-api-extra", "e")
	_, err = client.ListRequests(ctx, nil)
	assert.NoError(t, err)

	_, err = client.TransitionRequest(ctx, map[string]any{"id": "x", "action": "accept"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	// health is reachable without credentials
	_, err = healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	assert.NoError(t, err)
}
