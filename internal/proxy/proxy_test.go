package proxy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/modelmarket/proxy-api/internal/auth"
	"github.com/modelmarket/proxy-api/internal/ledger"
	"github.com/modelmarket/proxy-api/internal/quota"
	"github.com/modelmarket/proxy-api/internal/registry"
	"github.com/modelmarket/proxy-api/internal/secrets"
	"github.com/modelmarket/proxy-api/internal/store"
	"github.com/modelmarket/proxy-api/internal/store/model"
	"github.com/modelmarket/proxy-api/internal/store/sqlite"
	"github.com/modelmarket/proxy-api/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testDisplayName = "acme/fast-1"
	testProviderID  = "fast-1-0125"
	testToken       = "provider-secret-token"
)

type captureRecorder struct {
	mu   sync.Mutex
	recs []*model.APIRequest
}

func (r *captureRecorder) Log(rec *model.APIRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

func (r *captureRecorder) last(t *testing.T) *model.APIRequest {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.recs)
	return r.recs[len(r.recs)-1]
}

func (r *captureRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.recs)
}

type fixture struct {
	proxy    *Proxy
	repo     store.Repository
	ledger   *ledger.Service
	recorder *captureRecorder
	upstream *httptest.Server
	hits     atomic.Int32
	userID   string
	keyID    string
}

// newFixture wires a proxy against a stub upstream: one user with 10.0
// credits, one unlimited key, one model priced 0.01 per 1K on both
// sides.
func newFixture(t *testing.T, handler http.HandlerFunc) *fixture {
	t.Helper()

	f := &fixture{recorder: &captureRecorder{}}

	f.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(f.upstream.Close)

	repo, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	f.repo = repo

	ctx := context.Background()
	now := time.Now().UTC()

	f.userID = uuid.New().String()
	require.NoError(t, repo.Users().Create(ctx, &model.User{
		ID:        f.userID,
		Email:     f.userID + "@example.com",
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: now,
	}))

	f.keyID = uuid.New().String()
	require.NoError(t, repo.APIKeys().Create(ctx, &model.APIKey{
		ID:            f.keyID,
		UserID:        f.userID,
		Name:          "test",
		KeyHash:       uuid.New().String(),
		KeyPrefix:     "sk-test",
		AllowedModels: "[]",
		CreatedAt:     now,
		UpdatedAt:     now,
	}))

	encoded, err := secrets.GenerateKey(32)
	require.NoError(t, err)
	enc, err := secrets.NewFromBase64(encoded)
	require.NoError(t, err)

	log := zap.NewNop()
	registrySvc := registry.NewService(repo, enc, log)
	f.ledger = ledger.NewService(repo, log)
	quotaTracker := quota.NewTracker(repo, log)

	_, err = f.ledger.Credit(ctx, f.userID, 10.0, "test grant")
	require.NoError(t, err)

	_, err = registrySvc.Create(ctx, registry.Params{
		DisplayName:       testDisplayName,
		ProviderBaseURL:   f.upstream.URL,
		ProviderToken:     testToken,
		ProviderModelID:   testProviderID,
		PricingInputPerK:  priceRef(0.01),
		PricingOutputPerK: priceRef(0.01),
	})
	require.NoError(t, err)

	f.proxy = New(registrySvc, f.ledger, quotaTracker, f.recorder, f.upstream.Client(), log, 0.0001, Timeouts{})
	return f
}

func (f *fixture) identity() *auth.Identity {
	return &auth.Identity{UserID: f.userID, APIKeyID: f.keyID}
}

func (f *fixture) balance(t *testing.T) float64 {
	t.Helper()
	balance, err := f.ledger.GetBalance(context.Background(), f.userID)
	require.NoError(t, err)
	return balance
}

func (f *fixture) quotaUsed(t *testing.T) int64 {
	t.Helper()
	key, err := f.repo.APIKeys().GetByID(context.Background(), f.keyID)
	require.NoError(t, err)
	return key.QuotaUsed
}

func requestBody() map[string]any {
	return map[string]any{
		"model":    testDisplayName,
		"messages": []any{map[string]any{"role": "user", "content": "Hello"}},
	}
}

type collectStream struct {
	snap   quota.Snapshot
	frames []string
	began  bool
}

func (c *collectStream) Begin(snap quota.Snapshot) {
	c.began = true
	c.snap = snap
}

func (c *collectStream) Frame(frame string) error {
	c.frames = append(c.frames, frame)
	return nil
}

func TestCompleteChargesExactCostAndRewritesModel(t *testing.T) {
	var gotModel string
	var gotAuth string
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotModel, _ = req["model"].(string)
		gotAuth = r.Header.Get("Authorization")

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"resp-1","model":%q,"usage":{"prompt_tokens":1000,"completion_tokens":500}}`, testProviderID)
	})

	res, err := f.proxy.Complete(context.Background(), f.identity(), requestBody(), "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	// request went out under the provider's model id and token
	assert.Equal(t, testProviderID, gotModel)
	assert.Equal(t, "Bearer "+testToken, gotAuth)

	// response comes back under the display name
	var resp map[string]any
	require.NoError(t, json.Unmarshal(res.Body, &resp))
	assert.Equal(t, testDisplayName, resp["model"])

	// cost = (1000/1000)*0.01 + (500/1000)*0.01
	assert.InDelta(t, 10.0-0.015, f.balance(t), 1e-9)
	assert.Equal(t, int64(1), f.quotaUsed(t))

	rec := f.recorder.last(t)
	assert.Equal(t, http.StatusOK, rec.StatusCode)
	assert.Equal(t, 1000, rec.TokensInput)
	assert.Equal(t, 500, rec.TokensOutput)
	assert.InDelta(t, 0.015, rec.Cost, 1e-9)
	assert.False(t, rec.IsStreamed)
	assert.Equal(t, "10.0.0.1", rec.IPAddress)
}

func TestAdmissionFailuresMakeNoUpstreamCalls(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	ctx := context.Background()

	// missing model field
	_, err := f.proxy.Complete(ctx, f.identity(), map[string]any{}, "")
	assert.Equal(t, api.KindBadRequest, api.AsError(err).Kind)

	// model outside the key's allow-list
	restricted := f.identity()
	restricted.AllowedModels = []string{"other/model"}
	_, err = f.proxy.Complete(ctx, restricted, requestBody(), "")
	assert.Equal(t, api.KindForbidden, api.AsError(err).Kind)

	// unknown model
	body := requestBody()
	body["model"] = "nope/missing"
	_, err = f.proxy.Complete(ctx, f.identity(), body, "")
	assert.Equal(t, api.KindModelNotFound, api.AsError(err).Kind)

	// unknown model outside the allow-list: resolution runs first, so
	// the caller sees not-found rather than forbidden
	body = requestBody()
	body["model"] = "nope/missing"
	_, err = f.proxy.Complete(ctx, restricted, body, "")
	assert.Equal(t, api.KindModelNotFound, api.AsError(err).Kind)

	assert.Zero(t, f.hits.Load())
	assert.Zero(t, f.recorder.count())
	assert.InDelta(t, 10.0, f.balance(t), 1e-9)
	assert.Zero(t, f.quotaUsed(t))
}

func TestInsufficientCreditsRejectedBeforeUpstream(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	ctx := context.Background()

	// drain the balance to zero
	_, err := f.ledger.Debit(ctx, f.userID, 10.0, "drain", nil)
	require.NoError(t, err)

	_, err = f.proxy.Complete(ctx, f.identity(), requestBody(), "")
	assert.Equal(t, api.KindInsufficientCredits, api.AsError(err).Kind)
	assert.Zero(t, f.hits.Load())
}

func TestQuotaExceededRejectedBeforeUpstream(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	ctx := context.Background()

	// key with a limit of one that is already used up
	limitedID := uuid.New().String()
	now := time.Now().UTC()
	require.NoError(t, f.repo.APIKeys().Create(ctx, &model.APIKey{
		ID:            limitedID,
		UserID:        f.userID,
		KeyHash:       uuid.New().String(),
		KeyPrefix:     "sk-lim",
		AllowedModels: "[]",
		QuotaLimit:    newNullInt64(1),
		CreatedAt:     now,
		UpdatedAt:     now,
	}))
	require.NoError(t, f.repo.APIKeys().IncrementQuota(ctx, limitedID))

	id := &auth.Identity{UserID: f.userID, APIKeyID: limitedID}
	_, err := f.proxy.Complete(ctx, id, requestBody(), "")
	assert.Equal(t, api.KindQuotaExceeded, api.AsError(err).Kind)
	assert.Zero(t, f.hits.Load())
}

func TestCompleteNon2xxPassesThroughWithoutCharge(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"upstream overloaded"}}`)
	})

	res, err := f.proxy.Complete(context.Background(), f.identity(), requestBody(), "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Contains(t, string(res.Body), "upstream overloaded")

	assert.InDelta(t, 10.0, f.balance(t), 1e-9)
	assert.Zero(t, f.quotaUsed(t))

	rec := f.recorder.last(t)
	assert.Equal(t, http.StatusTooManyRequests, rec.StatusCode)
	assert.Zero(t, rec.Cost)
}

func TestCompleteZeroUsageIsNotChargeable(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"resp-1","choices":[]}`)
	})

	res, err := f.proxy.Complete(context.Background(), f.identity(), requestBody(), "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	// 2xx with no usage: logged, never debited
	assert.InDelta(t, 10.0, f.balance(t), 1e-9)
	assert.Zero(t, f.quotaUsed(t))
	assert.Equal(t, 1, f.recorder.count())
}

func TestCompleteTransportFailureLogs502(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	f.upstream.Close()

	_, err := f.proxy.Complete(context.Background(), f.identity(), requestBody(), "")
	require.Error(t, err)
	assert.Equal(t, api.KindProviderError, api.AsError(err).Kind)

	rec := f.recorder.last(t)
	assert.Equal(t, http.StatusBadGateway, rec.StatusCode)
	assert.Zero(t, rec.Cost)
	assert.True(t, rec.ErrorMessage.Valid)

	assert.InDelta(t, 10.0, f.balance(t), 1e-9)
}

func TestStreamForwardsFramesAndSettlesOnFinalUsage(t *testing.T) {
	var gotStream bool
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotStream, _ = req["stream"].(bool)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "data: {\"model\":%q,\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n", testProviderID)
		flusher.Flush()
		fmt.Fprintf(w, "data: {\"model\":%q,\"choices\":[],\"usage\":{\"prompt_tokens\":1000,\"completion_tokens\":500}}\n\n", testProviderID)
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	})

	sink := &collectStream{}
	err := f.proxy.Stream(context.Background(), f.identity(), requestBody(), "10.0.0.1", sink)
	require.NoError(t, err)

	assert.True(t, gotStream, "stream:true must be forced into the upstream body")
	assert.True(t, sink.began)
	require.Len(t, sink.frames, 3)

	// chunks carry the display name, not the provider id
	assert.Contains(t, sink.frames[0], testDisplayName)
	assert.NotContains(t, sink.frames[0], testProviderID)
	assert.Equal(t, "data: [DONE]\n\n", sink.frames[2])

	// settled from the last observed usage
	assert.InDelta(t, 10.0-0.015, f.balance(t), 1e-9)
	assert.Equal(t, int64(1), f.quotaUsed(t))

	rec := f.recorder.last(t)
	assert.True(t, rec.IsStreamed)
	assert.Equal(t, 1000, rec.TokensInput)
	assert.Equal(t, 500, rec.TokensOutput)
	assert.InDelta(t, 0.015, rec.Cost, 1e-9)
}

func TestStreamWithoutUsageIsNotCharged(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "data: {\"model\":%q,\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n", testProviderID)
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	})

	sink := &collectStream{}
	err := f.proxy.Stream(context.Background(), f.identity(), requestBody(), "", sink)
	require.NoError(t, err)

	assert.InDelta(t, 10.0, f.balance(t), 1e-9)
	assert.Zero(t, f.quotaUsed(t))
	assert.Equal(t, 1, f.recorder.count())
}

func TestStreamAnthropicStyleEndpoint(t *testing.T) {
	var gotAPIKey, gotVersion string
	handler := func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "event: message_start\n")
		fmt.Fprintf(w, "data: {\"type\":\"message_start\",\"message\":{\"model\":%q,\"usage\":{\"input_tokens\":1000}}}\n\n", testProviderID)
		flusher.Flush()
		fmt.Fprint(w, "event: message_delta\n")
		fmt.Fprint(w, "data: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":500}}\n\n")
		flusher.Flush()
	}

	f := newFixture(t, handler)

	// repoint the model at an explicit messages path so the anthropic
	// auth convention kicks in
	m, err := f.repo.Models().GetByDisplayName(context.Background(), testDisplayName)
	require.NoError(t, err)
	m.ProviderBaseURL = f.upstream.URL + "/v1/messages"
	require.NoError(t, f.repo.Models().Update(context.Background(), m))

	sink := &collectStream{}
	err = f.proxy.Stream(context.Background(), f.identity(), requestBody(), "", sink)
	require.NoError(t, err)

	assert.Equal(t, testToken, gotAPIKey)
	assert.Equal(t, anthropicVersion, gotVersion)

	// the provider never sent [DONE]; the proxy terminates the channel
	require.NotEmpty(t, sink.frames)
	assert.Equal(t, "data: [DONE]\n\n", sink.frames[len(sink.frames)-1])

	// message_start input plus message_delta output
	assert.InDelta(t, 10.0-0.015, f.balance(t), 1e-9)

	rec := f.recorder.last(t)
	assert.Equal(t, 1000, rec.TokensInput)
	assert.Equal(t, 500, rec.TokensOutput)
}

func TestStreamUpstreamErrorBeforeFramesFailsCleanly(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":"down"}`)
	})

	sink := &collectStream{}
	err := f.proxy.Stream(context.Background(), f.identity(), requestBody(), "", sink)
	require.Error(t, err)
	assert.Equal(t, api.KindProviderError, api.AsError(err).Kind)
	assert.False(t, sink.began)

	rec := f.recorder.last(t)
	assert.Equal(t, http.StatusBadGateway, rec.StatusCode)
	assert.Zero(t, rec.Cost)
	assert.InDelta(t, 10.0, f.balance(t), 1e-9)
}

func newNullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: true}
}

func priceRef(v float64) *float64 {
	return &v
}
