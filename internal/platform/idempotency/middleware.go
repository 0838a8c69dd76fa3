package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nihonselect/api/internal/platform/auth"
	"github.com/nihonselect/api/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	maxKeyLength      = 255
	anonymousSubject  = "anonymous"
)

type keyContextKey struct{}

// KeyFromContext returns the client-supplied idempotency key of the current request.
func KeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(keyContextKey{}).(string)
	return key
}

// WithKey stores an idempotency key in ctx.
func WithKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, keyContextKey{}, key)
}

type clockFunc func() time.Time

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	methods    map[string]struct{}
	clock      clockFunc
	logger     *zap.Logger
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL configures how long completed records are replayed.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithMethods restricts the HTTP methods guarded by the middleware.
func WithMethods(methods ...string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		set := make(map[string]struct{}, len(methods))
		for _, method := range methods {
			if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
				set[method] = struct{}{}
			}
		}
		if len(set) > 0 {
			cfg.methods = set
		}
	}
}

func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

func WithClock(clock clockFunc) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// requestKey identifies one logical mutation. The stored key is scoped to the caller and the route,
// so a storefront may reuse one key across authorize and order creation, and a key guessed by
// another caller never replays someone else's payment intent.
type requestKey struct {
	client      string
	subject     string
	scoped      string
	fingerprint string
}

func newRequestKey(r *http.Request, client string, body []byte) requestKey {
	subject := anonymousSubject
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity != nil && identity.UID != "" {
		subject = identity.UID
	}
	route := strings.ToUpper(r.Method) + " " + r.URL.Path
	return requestKey{
		client:      client,
		subject:     subject,
		scoped:      strings.Join([]string{subject, route, client}, "|"),
		fingerprint: sha256Hex([]byte(strings.Join([]string{r.Header.Get("Content-Type"), r.URL.RawQuery, sha256Hex(body)}, "|"))),
	}
}

// validKey accepts up to maxKeyLength visible ASCII characters.
func validKey(key string) bool {
	if key == "" || len(key) > maxKeyLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] < 0x21 || key[i] > 0x7e {
			return false
		}
	}
	return true
}

// Middleware replays the stored response of a completed request that carries the same key, and
// rejects concurrent or conflicting reuse. Responses with a 5xx status are not stored; the key is
// released so the client may retry.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		methods: map[string]struct{}{
			http.MethodPost:   {},
			http.MethodPut:    {},
			http.MethodPatch:  {},
			http.MethodDelete: {},
		},
		clock:  time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		g := &guard{cfg: cfg, store: store, next: next}
		return http.HandlerFunc(g.serve)
	}
}

type guard struct {
	cfg   middlewareConfig
	store Store
	next  http.Handler
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request) {
	if _, ok := g.cfg.methods[r.Method]; !ok {
		g.next.ServeHTTP(w, r)
		return
	}
	ctx := r.Context()

	client := strings.TrimSpace(r.Header.Get(g.cfg.headerName))
	if client == "" {
		writeError(ctx, w, http.StatusBadRequest, "idempotency_key_required", "missing "+g.cfg.headerName+" header")
		return
	}
	if !validKey(client) {
		writeError(ctx, w, http.StatusBadRequest, "idempotency_key_invalid", "idempotency key must be 1-255 visible ASCII characters")
		return
	}

	body, err := bufferBody(r)
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, "idempotency_read_body_failed", "unable to read request body")
		return
	}

	key := newRequestKey(r, client, body)
	logger := g.cfg.logger.With(zap.String("key", client), zap.String("path", r.URL.Path))

	reservation, err := g.store.Reserve(ctx, key.scoped, key.fingerprint, g.cfg.clock().UTC(), g.cfg.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		writeError(ctx, w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
		return
	case err != nil:
		logger.Error("idempotency reserve failed", zap.Error(err))
		writeError(ctx, w, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
		return
	}

	switch reservation.State {
	case ReservationStateCompleted:
		replay(w, reservation.Record)
		return
	case ReservationStatePending:
		writeError(ctx, w, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
		return
	}

	captured := newCapturedResponse()
	g.next.ServeHTTP(captured, r.WithContext(WithKey(ctx, client)))

	if captured.status >= http.StatusInternalServerError {
		if err := g.store.Release(ctx, key.scoped, key.fingerprint); err != nil {
			logger.Warn("idempotency release after server error failed", zap.Error(err))
		}
		captured.flush(w)
		return
	}

	resp := Response{Status: captured.status, Headers: captured.header.Clone(), Body: captured.body.Bytes()}
	if err := g.store.SaveResponse(ctx, key.scoped, key.fingerprint, resp, g.cfg.clock().UTC(), g.cfg.ttl); err != nil {
		logger.Error("idempotency persist failed", zap.String("subject", key.subject), zap.Error(err))
		if err := g.store.Release(ctx, key.scoped, key.fingerprint); err != nil {
			logger.Warn("idempotency release after save failure failed", zap.Error(err))
		}
		writeError(ctx, w, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
		return
	}
	captured.flush(w)
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

func replay(w http.ResponseWriter, record Record) {
	dst := w.Header()
	for name, values := range headersFromRecord(record.ResponseHeaders) {
		dst[name] = values
	}
	dst.Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

// capturedResponse buffers the handler's response until the outcome has been persisted.
type capturedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newCapturedResponse() *capturedResponse {
	return &capturedResponse{header: make(http.Header), status: http.StatusOK}
}

func (c *capturedResponse) Header() http.Header { return c.header }

func (c *capturedResponse) WriteHeader(status int) {
	if status > 0 {
		c.status = status
	}
}

func (c *capturedResponse) Write(data []byte) (int, error) {
	return c.body.Write(data)
}

func (c *capturedResponse) flush(w http.ResponseWriter) {
	dst := w.Header()
	for name, values := range c.header {
		dst[name] = values
	}
	w.WriteHeader(c.status)
	if c.body.Len() > 0 {
		_, _ = w.Write(c.body.Bytes())
	}
}
