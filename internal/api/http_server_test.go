package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"autocare/internal/config"
	"autocare/internal/events"
	"autocare/internal/models"
	"autocare/internal/pricing"
	"autocare/internal/repository"
	"autocare/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type testEnv struct {
	deps   Deps
	ledger *service.RequestLedger
	sink   *service.NotificationSink
	store  *repository.MemorySnapshotStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)

	catalog, err := service.NewCatalogService([]models.CatalogService{
		{ID: "basic", Name: "Basic Check", BasePrice: 50, Active: true},
		{ID: "oil-change", Name: "Oil Change", BasePrice: 49.99, Active: true},
	}, &logger)
	require.NoError(t, err)

	bus := events.NewEventBus()
	sink := service.NewNotificationSink(0)
	service.RegisterNotificationRules(bus, sink, &logger)

	store := repository.NewMemorySnapshotStore()
	ledger := service.NewRequestLedger(store, catalog, bus, nil, &logger)

	return &testEnv{
		deps:   Deps{Ledger: ledger, Catalog: catalog, Notifications: sink, Chat: service.NewChatLog(ledger, sink, 0, &logger)},
		ledger: ledger,
		sink:   sink,
		store:  store,
	}
}

func newTestHTTPServer(t *testing.T, cfg config.APIConfig, deps Deps) *httptest.Server {
	t.Helper()
	logger := zerolog.New(io.Discard)
	server := NewHTTPServer(cfg, deps, &logger)
	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func openAPIConfig() config.APIConfig {
	return config.APIConfig{Enabled: true, HTTP: config.APIHTTPConfig{Enabled: true}}
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func basicDraft() map[string]any {
	return map[string]any{
		"customerId":  "c1",
		"vehicle":     "Civic",
		"serviceType": "basic",
		"urgency":     "normal",
		"distance":    20,
	}
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	ts := newTestHTTPServer(t, openAPIConfig(), env.deps)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/requests", basicDraft(), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `"1"`, resp.Header.Get("ETag"))
	created := decode[models.ServiceRequest](t, resp)
	assert.Equal(t, 250.0, created.Price)
	assert.Equal(t, models.StatusPending, created.Status)
	assert.False(t, created.MechanicAssigned)

	base := ts.URL + "/api/v1/requests/" + created.ID.String()

	resp = doJSON(t, http.MethodPost, base+"/accept", map[string]any{"mechanicId": "m1"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	accepted := decode[models.ServiceRequest](t, resp)
	assert.Equal(t, models.StatusAccepted, accepted.Status)
	assert.True(t, accepted.MechanicAssigned)
	assert.Equal(t, "m1", accepted.MechanicID)

	// second accept is rejected and leaves the request accepted
	resp = doJSON(t, http.MethodPost, base+"/accept", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, base+"/start", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = doJSON(t, http.MethodPost, base+"/complete", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, base, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[models.ServiceRequest](t, resp)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, int64(4), got.Version)

	resp = doJSON(t, http.MethodPost, base+"/accept", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// persisted after every write
	data, err := env.store.Get(context.Background(), models.StorageKeyRequests)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"COMPLETED"`)

	notes := env.sink.List("c1")
	require.NotEmpty(t, notes)
	assert.Equal(t, "Service Completed", notes[0].Title)
}

func TestCreateRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	ts := newTestHTTPServer(t, openAPIConfig(), env.deps)

	draft := basicDraft()
	draft["distance"] = 0
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/requests", draft, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Contains(t, body["error"], "distance")

	draft = basicDraft()
	draft["serviceType"] = "teleport"
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/requests", draft, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/requests", strings.NewReader("{"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)

	assert.Empty(t, env.ledger.List(models.RequestFilter{}))
}

func TestRequestActionErrors(t *testing.T) {
	env := newTestEnv(t)
	ts := newTestHTTPServer(t, openAPIConfig(), env.deps)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/requests/nope/accept", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	created, err := env.ledger.Create(context.Background(), models.RequestDraft{
		CustomerID: "c1", Vehicle: "Civic", ServiceType: "basic", Urgency: "normal", Distance: 20,
	})
	require.NoError(t, err)
	base := ts.URL + "/api/v1/requests/" + created.ID.String()

	resp = doJSON(t, http.MethodPost, base+"/teleport", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, base+"/start", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, base+"/accept", nil, map[string]string{"If-Match": `"7"`})
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, base+"/accept", nil, map[string]string{"If-Match": "abc"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, base+"/reject", map[string]any{"version": 1}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `"2"`, resp.Header.Get("ETag"))

	got, err := env.ledger.Get(created.ID.String())
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, got.Status)
}

func TestListRequests(t *testing.T) {
	env := newTestEnv(t)
	ts := newTestHTTPServer(t, openAPIConfig(), env.deps)
	ctx := context.Background()

	for _, customer := range []string{"c1", "c2", "c1"} {
		_, err := env.ledger.Create(ctx, models.RequestDraft{
			CustomerID: customer, Vehicle: "Civic", ServiceType: "basic", Urgency: "normal", Distance: 1,
		})
		require.NoError(t, err)
	}
	first := env.ledger.List(models.RequestFilter{})[0]
	_, err := env.ledger.Reject(ctx, first.ID.String())
	require.NoError(t, err)

	type listResp struct {
		Requests []models.ServiceRequest `json:"requests"`
		Count    int                     `json:"count"`
	}

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/requests?customerId=c1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decode[listResp](t, resp).Count)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/requests?status=pending", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decode[listResp](t, resp).Count)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/requests?status=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExportRequests(t *testing.T) {
	env := newTestEnv(t)
	ts := newTestHTTPServer(t, openAPIConfig(), env.deps)

	_, err := env.ledger.Create(context.Background(), models.RequestDraft{
		CustomerID: "c1", Vehicle: "Civic", ServiceType: "basic", Urgency: "emergency", Distance: 20,
	})
	require.NoError(t, err)

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/requests/export", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".xlsx")

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	price, err := f.GetCellValue("Requests", "I2")
	require.NoError(t, err)
	assert.Equal(t, "300", price)
}

func TestCatalogEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ts := newTestHTTPServer(t, openAPIConfig(), env.deps)

	type catalogResp struct {
		Services []models.CatalogService `json:"services"`
	}

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/catalog", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[catalogResp](t, resp).Services, 2)

	resp = doJSON(t, http.MethodPut, ts.URL+"/api/v1/catalog/wash", map[string]any{"name": "Car Wash", "basePrice": 15}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	saved := decode[models.CatalogService](t, resp)
	assert.Equal(t, "wash", saved.ID)
	assert.True(t, saved.Active)

	resp = doJSON(t, http.MethodPut, ts.URL+"/api/v1/catalog/bad", map[string]any{"name": "Bad", "basePrice": -1}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/v1/catalog/wash", nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/v1/catalog/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/catalog?all=true", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[catalogResp](t, resp).Services, 3)

	draft := basicDraft()
	draft["serviceType"] = "wash"
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/requests", draft, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "inactive services cannot be requested")
}

func TestQuoteEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ts := newTestHTTPServer(t, openAPIConfig(), env.deps)

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/pricing/quote?basePrice=50&distance=20&urgency=EMERGENCY", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	q := decode[pricing.Quote](t, resp)
	assert.Equal(t, pricing.Quote{BasePrice: 50, DistanceFee: 200, UrgencyFee: 50, Total: 300}, q)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/pricing/quote?serviceType=oil-change&distance=1&urgency=normal", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 59.99, decode[pricing.Quote](t, resp).Total)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/pricing/quote?distance=1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/pricing/quote?basePrice=1&distance=x", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/pricing/quote?serviceType=teleport&distance=1", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNotificationEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ts := newTestHTTPServer(t, openAPIConfig(), env.deps)

	n := env.sink.Emit(models.Notification{Title: "hello", UserID: "u1"})
	env.sink.Emit(models.Notification{Title: "other", UserID: "u2"})

	type listResp struct {
		Notifications []models.Notification `json:"notifications"`
		Unread        int                   `json:"unread"`
	}

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/notifications?userId=u1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[listResp](t, resp)
	require.Len(t, list.Notifications, 1)
	assert.Equal(t, 1, list.Unread)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/notifications/"+n.ID+"/read", nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, env.sink.UnreadCount("u1"))

	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/v1/notifications/"+n.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/v1/notifications/"+n.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/notifications/missing/read", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChatEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ts := newTestHTTPServer(t, openAPIConfig(), env.deps)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/requests", basicDraft(), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[models.ServiceRequest](t, resp)
	base := ts.URL + "/api/v1/requests/" + created.ID.String() + "/messages"

	resp = doJSON(t, http.MethodPost, base, map[string]any{"senderId": "c1", "senderName": "Ann", "message": "hello"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sent := decode[models.ChatMessage](t, resp)
	assert.Equal(t, created.ID.String(), sent.RequestID)
	assert.NotEmpty(t, sent.ID)

	type listResp struct {
		Messages []models.ChatMessage `json:"messages"`
	}
	resp = doJSON(t, http.MethodGet, base, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[listResp](t, resp)
	require.Len(t, list.Messages, 1)
	assert.Equal(t, "hello", list.Messages[0].Message)

	resp = doJSON(t, http.MethodPost, base, map[string]any{"message": " "}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = doJSON(t, http.MethodPost, base, map[string]any{"text": "wrong field"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/requests/missing/messages", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/requests/missing/messages", map[string]any{"message": "hi"}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// transitions still route past the messages pattern
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/requests/"+created.ID.String()+"/accept", map[string]any{"mechanicId": "m1"}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPAuthAndRateLimit(t *testing.T) {
	env := newTestEnv(t)
	cfg := config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true},
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{
				{Key: "reader", Extra: "r-extra", Permissions: []string{permReadRequests}},
				{Key: "admin", Extra: "a-extra"},
			},
		},
		RateLimit: config.APIRateLimitConfig{RPS: 1, Burst: 2},
	}
	ts := newTestHTTPServer(t, cfg, env.deps)

	reader := map[string]string{"x-api-key": "reader", "x-api-extra": "r-extra"}

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/requests", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/requests", nil, map[string]string{"x-api-key": "reader", "x-api-extra": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/requests", basicDraft(), reader)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/requests", nil, reader)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/requests", nil, reader)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/requests", nil, reader)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// limits are per key, and health checks bypass auth
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/requests", nil, map[string]string{"x-api-key": "admin", "x-api-extra": "a-extra"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = doJSON(t, http.MethodGet, ts.URL+"/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequiredPermissionHTTP(t *testing.T) {
	cases := []struct {
		method, path, want string
	}{
		{http.MethodGet, "/api/v1/requests", permReadRequests},
		{http.MethodGet, "/api/v1/requests/abc", permReadRequests},
		{http.MethodPost, "/api/v1/requests/abc/accept", permWriteRequests},
		{http.MethodGet, "/api/v1/requests/abc/messages", permReadRequests},
		{http.MethodPost, "/api/v1/requests/abc/messages", permWriteRequests},
		{http.MethodGet, "/api/v1/requests/export", permExportRequests},
		{http.MethodGet, "/api/v1/catalog", permReadCatalog},
		{http.MethodPut, "/api/v1/catalog/x", permWriteCatalog},
		{http.MethodGet, "/api/v1/pricing/quote", permReadCatalog},
		{http.MethodGet, "/api/v1/notifications", permReadNotifications},
		{http.MethodDelete, "/api/v1/notifications/x", permWriteNotifications},
		{http.MethodGet, "/other", ""},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(tc.method, tc.path, nil)
		assert.Equal(t, tc.want, requiredPermissionHTTP(r), "%s %s", tc.method, tc.path)
	}
}

func TestParseVersionTag(t *testing.T) {
	v, err := parseVersionTag(`W/"3"`)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, err = parseVersionTag("5")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	_, err = parseVersionTag(`"x"`)
	assert.Error(t, err)
}
