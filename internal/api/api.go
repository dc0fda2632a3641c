package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Abdullah1738/lws-scan/internal/keys"
	"github.com/Abdullah1738/lws-scan/internal/metrics"
	"github.com/Abdullah1738/lws-scan/internal/store"
	"github.com/Abdullah1738/lws-scan/internal/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ErrBadRequest marks client input that decoded but is not usable.
var ErrBadRequest = errors.New("api: bad request")

type Server struct {
	st      store.Store
	network keys.Network
	log     *zap.Logger
	metrics *metrics.API
	gather  prometheus.Gatherer

	bearerToken string
	perKBFee    uint64
	timeout     time.Duration

	endpoints []endpoint
}

type Option func(*Server)

// WithBearerToken requires "Authorization: Bearer <token>" on the /v1 and
// /metrics routes.
func WithBearerToken(token string) Option {
	return func(s *Server) { s.bearerToken = strings.TrimSpace(token) }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

func WithMetrics(m *metrics.API, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gather = g
	}
}

// WithFeePerKB sets the fee reported by get_unspent_outs.
func WithFeePerKB(fee uint64) Option {
	return func(s *Server) { s.perKBFee = fee }
}

func New(st store.Store, network keys.Network, opts ...Option) (*Server, error) {
	if st == nil {
		return nil, errors.New("api: store is nil")
	}
	s := &Server{
		st:       st,
		network:  network,
		log:      zap.NewNop(),
		perKBFee: 20000,
		timeout:  10 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.endpoints = s.table()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", s.handleHealth)
	mux.Handle("/v1/accounts/", s.auth(http.HandlerFunc(s.handleAccountEvents)))
	if s.gather != nil {
		mux.Handle("/metrics", s.auth(promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{})))
	}
	mux.HandleFunc("/", s.handleREST)
	return mux
}

func (s *Server) auth(next http.Handler) http.Handler {
	if s.bearerToken == "" {
		return next
	}
	want := []byte("Bearer " + s.bearerToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// endpoint is one light-wallet call. A nil run is answered 501.
type endpoint struct {
	name    string
	run     func(ctx context.Context, body []byte) (any, error)
	maxSize int64
}

func (s *Server) table() []endpoint {
	eps := []endpoint{
		{"/get_address_info", s.getAddressInfo, 2 * 1024},
		{"/get_address_txs", s.getAddressTxs, 2 * 1024},
		{"/get_txt_records", nil, 0},
		{"/get_unspent_outs", s.getUnspentOuts, 2 * 1024},
		{"/import_wallet_request", s.importRequest, 2 * 1024},
		{"/login", s.login, 2 * 1024},
	}
	slices.SortFunc(eps, func(a, b endpoint) int { return strings.Compare(a.name, b.name) })
	return eps
}

func (s *Server) lookup(path string) (*endpoint, bool) {
	i, found := slices.BinarySearchFunc(s.endpoints, path, func(e endpoint, p string) int {
		return strings.Compare(e.name, p)
	})
	if !found {
		return nil, false
	}
	return &s.endpoints[i], true
}

func (s *Server) handleREST(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	ep, ok := s.lookup(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	code := s.serveEndpoint(w, r, ep)
	s.metrics.Observe(ep.name, strconv.Itoa(code), time.Since(started).Seconds())
}

func (s *Server) serveEndpoint(w http.ResponseWriter, r *http.Request, ep *endpoint) int {
	if ep.run == nil {
		return fail(w, http.StatusNotImplemented)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, ep.maxSize+1))
	if err != nil {
		return fail(w, http.StatusBadRequest)
	}
	if int64(len(body)) > ep.maxSize {
		s.log.Info("client exceeded maximum body size", zap.String("endpoint", ep.name), zap.Int64("max", ep.maxSize))
		return fail(w, http.StatusBadRequest)
	}
	if r.Method != http.MethodPost {
		return fail(w, http.StatusMethodNotAllowed)
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	resp, err := ep.run(ctx, body)
	if err != nil {
		code := StatusFor(err)
		s.log.Info("request failed",
			zap.String("endpoint", ep.name),
			zap.String("remote", r.RemoteAddr),
			zap.Int("code", code),
			zap.Error(err),
		)
		return fail(w, code)
	}
	writeJSON(w, http.StatusOK, resp)
	return http.StatusOK
}

// StatusFor maps an error to the HTTP status family it belongs to.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case wire.IsDecodeError(err), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case store.IsDomain(err):
		return http.StatusForbidden
	case store.IsUnavailable(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(w http.ResponseWriter, code int) int {
	http.Error(w, http.StatusText(code), code)
	return code
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = wire.EncodeJSON(w, v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	var height store.BlockID
	err := s.st.View(ctx, func(tx store.ReadTx) error {
		var err error
		height, err = tx.ChainHeight(ctx)
		return err
	})
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Status      string `json:"status"`
		ChainHeight uint64 `json:"chain_height"`
	}{"ok", uint64(height)})
}

// handleAccountEvents serves GET /v1/accounts/{id}/events.
func (s *Server) handleAccountEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/accounts/"), "/")
	if len(parts) != 2 || parts[1] != "events" {
		http.NotFound(w, r)
		return
	}
	id, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return
	}

	cursor := parseUint64Query(r, "cursor", 0)
	limit := int(parseUint64Query(r, "limit", 100))

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	type event struct {
		ID        uint64    `json:"id"`
		Kind      string    `json:"kind"`
		Height    uint64    `json:"height"`
		Payload   wireRaw   `json:"payload"`
		CreatedAt time.Time `json:"created_at"`
	}

	var evs []store.Event
	var next uint64
	err = s.st.View(ctx, func(tx store.ReadTx) error {
		if _, err := tx.AccountByID(ctx, store.AccountID(id)); err != nil {
			return err
		}
		var err error
		evs, next, err = tx.ListEvents(ctx, store.AccountID(id), cursor, limit)
		return err
	})
	if err != nil {
		code := StatusFor(err)
		http.Error(w, http.StatusText(code), code)
		return
	}

	out := make([]event, 0, len(evs))
	for _, e := range evs {
		out = append(out, event{
			ID:        e.ID,
			Kind:      e.Kind,
			Height:    uint64(e.Height),
			Payload:   wireRaw(e.Payload),
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, struct {
		Events     []event `json:"events"`
		NextCursor uint64  `json:"next_cursor"`
	}{out, next})
}

// wireRaw is an already encoded JSON value.
type wireRaw []byte

func (r wireRaw) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

func parseUint64Query(r *http.Request, key string, def uint64) uint64 {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
