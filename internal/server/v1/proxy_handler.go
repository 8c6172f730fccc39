package v1

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/modelmarket/proxy-api/internal/auth"
	"github.com/modelmarket/proxy-api/internal/proxy"
	"github.com/modelmarket/proxy-api/internal/quota"
	"github.com/modelmarket/proxy-api/internal/server/middleware"
	"github.com/modelmarket/proxy-api/pkg/api"
	"go.uber.org/zap"
)

// ProxyHandler serves the two customer-facing completion endpoints.
// Both speak their native wire format; the body passes through with
// only the model field rewritten, so callers keep byte compatibility
// with their upstream SDKs.
type ProxyHandler struct {
	proxy  *proxy.Proxy
	logger *zap.Logger
}

func NewProxyHandler(p *proxy.Proxy, logger *zap.Logger) *ProxyHandler {
	return &ProxyHandler{proxy: p, logger: logger}
}

// Completion handles POST /v1/chat/completions and POST /v1/messages.
func (h *ProxyHandler) Completion(c *gin.Context) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		_ = c.Error(api.Unauthenticated("missing API key"))
		return
	}

	body := map[string]any{}
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(api.BadRequest("invalid JSON body"))
		return
	}

	if stream, _ := body["stream"].(bool); stream {
		h.handleStream(c, id, body)
		return
	}

	res, err := h.proxy.Complete(c.Request.Context(), id, body, c.ClientIP())
	if err != nil {
		_ = c.Error(err)
		return
	}

	setQuotaHeaders(c, res.Quota)
	c.Data(res.StatusCode, "application/json", res.Body)
}

func (h *ProxyHandler) handleStream(c *gin.Context, id *auth.Identity, body map[string]any) {
	w := &sseWriter{c: c}

	if err := h.proxy.Stream(c.Request.Context(), id, body, c.ClientIP(), w); err != nil {
		if !w.began {
			_ = c.Error(err)
			return
		}

		// headers are already on the wire, surface the error inline
		apiErr := api.AsError(err)
		payload, _ := json.Marshal(api.ErrorBody{Error: apiErr.Message})
		_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
		_, _ = io.WriteString(c.Writer, "data: [DONE]\n\n")
		c.Writer.Flush()
	}
}

// sseWriter adapts gin's response writer to the streaming callbacks.
type sseWriter struct {
	c     *gin.Context
	began bool
}

func (w *sseWriter) Begin(snap quota.Snapshot) {
	w.began = true
	setQuotaHeaders(w.c, snap)
	w.c.Writer.Header().Set("Content-Type", "text/event-stream")
	w.c.Writer.Header().Set("Cache-Control", "no-cache")
	w.c.Writer.Header().Set("Connection", "keep-alive")
	w.c.Writer.Header().Set("X-Accel-Buffering", "no")
	w.c.Writer.WriteHeader(http.StatusOK)
	w.c.Writer.Flush()
}

func (w *sseWriter) Frame(frame string) error {
	if _, err := io.WriteString(w.c.Writer, frame); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}

func setQuotaHeaders(c *gin.Context, snap quota.Snapshot) {
	c.Header(api.HeaderRateLimitLimit, strconv.FormatInt(snap.Limit, 10))
	c.Header(api.HeaderRateLimitRemaining, strconv.FormatInt(snap.Remaining, 10))
	c.Header(api.HeaderRateLimitReset, strconv.FormatInt(snap.Reset, 10))
}
