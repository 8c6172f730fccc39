package proxy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelmarket/proxy-api/internal/auth"
	"github.com/modelmarket/proxy-api/internal/httpclient"
	"github.com/modelmarket/proxy-api/internal/ledger"
	"github.com/modelmarket/proxy-api/internal/quota"
	"github.com/modelmarket/proxy-api/internal/registry"
	"github.com/modelmarket/proxy-api/internal/store/model"
	"github.com/modelmarket/proxy-api/internal/usage"
	"github.com/modelmarket/proxy-api/pkg/api"
	"go.uber.org/zap"
)

// Result is a completed buffered call: the upstream status and body to
// relay, plus the quota snapshot for rate-limit headers.
type Result struct {
	StatusCode int
	Body       []byte
	Quota      quota.Snapshot
}

// StreamHandler receives streaming callbacks. Begin runs exactly once,
// before the first frame, so response headers can still be set. Frame
// receives wire-ready SSE bytes to forward immediately.
type StreamHandler interface {
	Begin(snap quota.Snapshot)
	Frame(frame string) error
}

// Timeouts bounds upstream calls. Streams are long-lived so their
// ceiling is much larger than the buffered one.
type Timeouts struct {
	Buffered time.Duration
	Stream   time.Duration
}

// Proxy orchestrates a metered upstream call: admission checks,
// request rewrite, the provider call, usage extraction, and
// settlement. It never holds locks across the upstream call.
type Proxy struct {
	registry   *registry.Service
	ledger     *ledger.Service
	quota      *quota.Tracker
	recorder   usage.Recorder
	client     httpclient.HTTPClient
	logger     *zap.Logger
	minBalance float64
	timeouts   Timeouts
}

func New(
	reg *registry.Service,
	led *ledger.Service,
	qt *quota.Tracker,
	rec usage.Recorder,
	client httpclient.HTTPClient,
	logger *zap.Logger,
	minBalance float64,
	timeouts Timeouts,
) *Proxy {
	return &Proxy{
		registry:   reg,
		ledger:     led,
		quota:      qt,
		recorder:   rec,
		client:     client,
		logger:     logger,
		minBalance: minBalance,
		timeouts:   timeouts,
	}
}

// admission is the state gathered before any upstream traffic.
type admission struct {
	displayName string
	model       *registry.ResolvedModel
	snap        quota.Snapshot
}

// admit runs the pre-flight pipeline. A rejection here is pure: no
// upstream call has been made and no billable state has changed.
func (p *Proxy) admit(ctx context.Context, id *auth.Identity, body map[string]any) (*admission, error) {
	displayName, _ := body["model"].(string)
	if displayName == "" {
		return nil, api.BadRequest("model is required")
	}

	// resolve first so an unknown model reads as not-found even when
	// it is also outside the key's allow-list
	resolved, err := p.registry.ResolveActive(ctx, displayName)
	if err != nil {
		return nil, err
	}

	if !id.AllowsModel(displayName) {
		return nil, api.Forbidden("model not in allowed list")
	}

	sufficient, err := p.ledger.CheckSufficient(ctx, id.UserID, p.minBalance)
	if err != nil {
		return nil, err
	}
	if !sufficient {
		return nil, api.InsufficientCredits("insufficient credit balance")
	}

	allowed, snap, err := p.quota.Check(ctx, id.APIKeyID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, api.QuotaExceeded("API key quota exceeded")
	}

	return &admission{displayName: displayName, model: resolved, snap: snap}, nil
}

// Complete proxies a buffered (non-streaming) call.
func (p *Proxy) Complete(ctx context.Context, id *auth.Identity, body map[string]any, clientIP string) (*Result, error) {
	start := time.Now()

	if p.timeouts.Buffered > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeouts.Buffered)
		defer cancel()
	}

	adm, err := p.admit(ctx, id, body)
	if err != nil {
		return nil, err
	}

	body["model"] = adm.model.ProviderModelID
	delete(body, "stream")

	ep := resolveEndpoint(adm.model.ProviderBaseURL)
	status, respBody, err := httpclient.Post(ctx, p.client, ep.URL, ep.authHeaders(adm.model.ProviderToken), body)
	if err != nil {
		p.record(id, adm.model.ID, tokenUsage{}, 0, http.StatusBadGateway, start, clientIP, false, err.Error())
		return nil, api.ProviderError("upstream request failed", err)
	}

	var used tokenUsage
	payload := map[string]any{}
	if jsonErr := json.Unmarshal(respBody, &payload); jsonErr == nil {
		used.observe(payload)
		if _, ok := payload["model"]; ok {
			payload["model"] = adm.displayName
		}
		if rewritten, mErr := json.Marshal(payload); mErr == nil {
			respBody = rewritten
		}
	}

	cost := computeCost(used, adm.model.PricingInputPerK, adm.model.PricingOutputPerK)
	p.record(id, adm.model.ID, used, cost, status, start, clientIP, false, "")

	if status >= 200 && status < 300 && cost > 0 {
		p.settle(ctx, id, adm, used, cost)
	}

	return &Result{StatusCode: status, Body: respBody, Quota: adm.snap}, nil
}

// Stream proxies a streamed call. Frames are forwarded as they arrive;
// settlement happens once, after the upstream stream closes, using the
// last usage numbers observed. A client disconnect mid-stream still
// bills whatever usage was observed before the cut.
func (p *Proxy) Stream(ctx context.Context, id *auth.Identity, body map[string]any, clientIP string, h StreamHandler) error {
	start := time.Now()

	if p.timeouts.Stream > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeouts.Stream)
		defer cancel()
	}

	adm, err := p.admit(ctx, id, body)
	if err != nil {
		return err
	}

	body["model"] = adm.model.ProviderModelID
	body["stream"] = true

	var (
		used    tokenUsage
		began   bool
		sawDone bool
	)

	emit := func(frame string) error {
		if !began {
			began = true
			h.Begin(adm.snap)
		}
		return h.Frame(frame)
	}

	ep := resolveEndpoint(adm.model.ProviderBaseURL)
	streamErr := httpclient.Stream(ctx, p.client, ep.URL, ep.authHeaders(adm.model.ProviderToken), body, func(line string) error {
		payload, isData := dataPayload(line)
		if !isData {
			// field lines such as "event: ..." precede their data line
			return emit(line + "\n")
		}

		if payload == "[DONE]" {
			sawDone = true
			return emit("data: [DONE]\n\n")
		}

		parsed := map[string]any{}
		if jsonErr := json.Unmarshal([]byte(payload), &parsed); jsonErr != nil {
			return emit("data: " + payload + "\n\n")
		}

		used.observe(parsed)
		rewriteModel(parsed, adm.displayName)

		rewritten, mErr := json.Marshal(parsed)
		if mErr != nil {
			return emit("data: " + payload + "\n\n")
		}
		return emit("data: " + string(rewritten) + "\n\n")
	})

	if streamErr != nil {
		if !began {
			// nothing reached the client yet, fail the call cleanly
			p.record(id, adm.model.ID, tokenUsage{}, 0, http.StatusBadGateway, start, clientIP, true, streamErr.Error())
			return api.ProviderError("upstream stream failed", streamErr)
		}

		if errors.Is(ctx.Err(), context.Canceled) {
			// client went away: bill what was consumed before the cut
			cost := computeCost(used, adm.model.PricingInputPerK, adm.model.PricingOutputPerK)
			p.record(id, adm.model.ID, used, cost, http.StatusOK, start, clientIP, true, "client disconnected mid-stream")
			if cost > 0 {
				p.settle(ctx, id, adm, used, cost)
			}
			return api.ProviderError("client disconnected", streamErr)
		}

		p.record(id, adm.model.ID, used, 0, http.StatusBadGateway, start, clientIP, true, streamErr.Error())
		return api.ProviderError("upstream stream failed", streamErr)
	}

	cost := computeCost(used, adm.model.PricingInputPerK, adm.model.PricingOutputPerK)
	p.record(id, adm.model.ID, used, cost, http.StatusOK, start, clientIP, true, "")
	if cost > 0 {
		p.settle(ctx, id, adm, used, cost)
	}

	if !sawDone {
		if err := emit("data: [DONE]\n\n"); err != nil {
			return nil
		}
	}
	return nil
}

// settle runs the post-success billing sequence. The quota counter is
// only bumped after the debit lands, so quotaUsed counts confirmed
// chargeable calls.
func (p *Proxy) settle(ctx context.Context, id *auth.Identity, adm *admission, used tokenUsage, cost float64) {
	// the caller's context may already be canceled (client disconnect)
	// or at its deadline; billing must still land
	ctx = context.WithoutCancel(ctx)

	meta := map[string]any{
		"model":         adm.displayName,
		"tokens_input":  used.Input,
		"tokens_output": used.Output,
	}

	if _, err := p.ledger.Debit(ctx, id.UserID, cost, "usage: "+adm.displayName, meta); err != nil {
		p.logger.Error("Failed to debit usage cost",
			zap.String("user_id", id.UserID),
			zap.Float64("cost", cost),
			zap.Error(err))
		return
	}

	_ = p.quota.Increment(ctx, id.APIKeyID)
}

func (p *Proxy) record(id *auth.Identity, modelID string, used tokenUsage, cost float64, status int, start time.Time, ip string, streamed bool, errMsg string) {
	rec := &model.APIRequest{
		ID:           uuid.New().String(),
		UserID:       id.UserID,
		APIKeyID:     id.APIKeyID,
		ModelID:      modelID,
		TokensInput:  used.Input,
		TokensOutput: used.Output,
		Cost:         cost,
		StatusCode:   status,
		DurationMS:   time.Since(start).Milliseconds(),
		IsStreamed:   streamed,
		IPAddress:    ip,
		CreatedAt:    time.Now().UTC(),
	}
	if errMsg != "" {
		rec.ErrorMessage = sql.NullString{String: errMsg, Valid: true}
	}
	p.recorder.Log(rec)
}

// dataPayload extracts the payload of an SSE data line. Returns false
// for other field lines (event names, comments).
func dataPayload(line string) (string, bool) {
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "), true
}

// rewriteModel restores the customer-facing display name wherever the
// provider echoed its own model id.
func rewriteModel(payload map[string]any, displayName string) {
	if _, ok := payload["model"]; ok {
		payload["model"] = displayName
	}
	if msg, ok := payload["message"].(map[string]any); ok {
		if _, ok := msg["model"]; ok {
			msg["model"] = displayName
		}
	}
}
