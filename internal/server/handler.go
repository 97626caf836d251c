// Package server exposes the alert pipeline over HTTP for pager clients
// that poll: GET /alerts?lastHash=<fingerprint>.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"voicepager/internal/alert"
	logx "voicepager/pkg/logx"
)

var ErrBadPath = errors.New("server: unusable poll path")

const (
	DefaultPath       = "/alerts"
	HeaderRequestID   = "X-Request-ID"
	defaultRatePerSec = 5
	defaultBurst      = 10
)

// Pipeline produces one poll response.
type Pipeline interface {
	Build(ctx context.Context, lastHash string) (alert.Response, error)
}

type HandlerConfig struct {
	Path       string
	Token      string
	RatePerSec float64
	Burst      int
	// Pprof mounts net/http/pprof under /debug/pprof/ behind the same token.
	Pprof bool
}

// Handler serves the poll endpoint. Pipeline outcomes, including failures,
// are always 200 with a JSON body. Requests rejected before the pipeline runs
// use other statuses: bad methods get 405 and missing or wrong tokens get 401.
// A client over the rate limit gets 429 with Retry-After and the usual failure
// body (hasMessages=false, error="rate limited"), so pagers that only read
// the body still see a failure response.
type Handler struct {
	path    string
	token   string
	limiter *rate.Limiter
	log     logx.Logger
	pipe    atomic.Pointer[pipelineRef]
	mux     *http.ServeMux
}

type pipelineRef struct{ p Pipeline }

func NewHandler(cfg HandlerConfig, p Pipeline, log logx.Logger) *Handler {
	rps, burst := cfg.RatePerSec, cfg.Burst
	if rps <= 0 {
		rps = defaultRatePerSec
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	h := &Handler{
		path:    normalizePath(cfg.Path),
		token:   strings.TrimSpace(cfg.Token),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log,
		mux:     http.NewServeMux(),
	}
	h.SetPipeline(p)

	h.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Pprof {
		h.mountPprof()
	}
	h.mux.HandleFunc(h.path, h.serveAlerts)
	h.mux.HandleFunc(h.path+"/", h.serveSecretPath)
	h.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		h.serveAlerts(w, r)
	})
	return h
}

// SetPipeline swaps the pipeline used by subsequent requests.
func (h *Handler) SetPipeline(p Pipeline) { h.pipe.Store(&pipelineRef{p: p}) }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(HeaderRequestID)
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	w.Header().Set(HeaderRequestID, id)
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) serveSecretPath(w http.ResponseWriter, r *http.Request) {
	secret := strings.TrimPrefix(r.URL.Path, h.path+"/")
	if h.token == "" || secret == "" || strings.Contains(secret, "/") {
		http.NotFound(w, r)
		return
	}
	h.handle(w, r, tokenEqual(secret, h.token))
}

func (h *Handler) serveAlerts(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.authorized(r))
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	if got := r.URL.Query().Get("token"); got != "" {
		return tokenEqual(got, h.token)
	}
	const bearer = "Bearer "
	if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, bearer) {
		return tokenEqual(strings.TrimSpace(strings.TrimPrefix(ah, bearer)), h.token)
	}
	return false
}

func tokenEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request, authorized bool) {
	log := h.log.With(logx.String("req_id", w.Header().Get(HeaderRequestID)))

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, alert.FailureResponse(errors.New("rate limited")))
		return
	}
	if !authorized {
		log.Warn("unauthorized poll", logx.String("remote", r.RemoteAddr))
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	start := time.Now()
	resp := h.build(r.Context(), r.URL.Query().Get("lastHash"), log)
	log.Debug("poll served",
		logx.String("state", resp.State.String()),
		logx.Int("count", resp.Count),
		logx.Duration("took", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, resp)
}

// build never fails: errors and panics become the failure response.
func (h *Handler) build(ctx context.Context, lastHash string, log logx.Logger) (resp alert.Response) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("pipeline panicked", logx.Any("panic", rec))
			resp = alert.FailureResponse(fmt.Errorf("internal error: %v", rec))
		}
	}()
	ref := h.pipe.Load()
	if ref == nil || ref.p == nil {
		return alert.FailureResponse(errors.New("pipeline not configured"))
	}
	resp, err := ref.p.Build(ctx, lastHash)
	if err != nil {
		log.Error("pipeline failed", logx.Err(err))
		return alert.FailureResponse(err)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return DefaultPath
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return DefaultPath
	}
	return p
}

// reservedPaths are routes the handler owns whatever the poll path is.
var reservedPaths = []string{"/healthz", "/debug/pprof"}

// CheckPath reports whether p can be used as the poll path. It must not
// shadow a built-in route or carry ServeMux pattern syntax.
func CheckPath(p string) error {
	n := normalizePath(p)
	if strings.ContainsAny(n, " \t{}") {
		return fmt.Errorf("%w: %q contains pattern syntax", ErrBadPath, p)
	}
	for _, r := range reservedPaths {
		if n == r || strings.HasPrefix(n, r+"/") {
			return fmt.Errorf("%w: %q collides with %s", ErrBadPath, p, r)
		}
	}
	return nil
}
