package relay

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ciphermesh/internal/domain"
	"ciphermesh/internal/metrics"
)

const (
	defaultFetchLimit = 100
	maxMailbox        = 10000
	maxBodyBytes      = 1 << 20
)

type directoryEntry struct {
	bundle  domain.PreKeyBundle
	oneTime []domain.OneTimePreKeyPublic
}

// SendRequest is the body of a mailbox POST.
type SendRequest struct {
	From domain.PeerID `json:"from"`
	Data []byte        `json:"data"`
}

// AckRequest is the body of a mailbox ack.
type AckRequest struct {
	Count int `json:"count"`
}

// Server is an in-memory relay.
type Server struct {
	mu        sync.Mutex
	bundles   map[domain.PeerID]*directoryEntry
	mailboxes map[domain.PeerID][]domain.Inbound

	logger   log.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	now      func() time.Time

	rateLimit  int
	rateWindow time.Duration
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(l log.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithServerMetrics sets the collectors and the gatherer served on /metrics.
func WithServerMetrics(m *metrics.Metrics, g prometheus.Gatherer) ServerOption {
	return func(s *Server) { s.metrics, s.gatherer = m, g }
}

// WithRateLimit caps each client IP at limit requests per window.
func WithRateLimit(limit int, window time.Duration) ServerOption {
	return func(s *Server) { s.rateLimit, s.rateWindow = limit, window }
}

// NewServer returns an empty relay.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		bundles:   make(map[domain.PeerID]*directoryEntry),
		mailboxes: make(map[domain.PeerID][]domain.Inbound),
		logger:    log.NewNopLogger(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}
	s.logger = log.With(s.logger, "component", "relay")
	return s
}

// Handler returns the relay HTTP API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.instrument)
	if s.rateLimit > 0 {
		r.Use(httprate.LimitByIP(s.rateLimit, s.rateWindow))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/bundles", s.handleRegister)
		r.Get("/bundles/{peer}", s.handleFetchBundle)
		r.Post("/messages/{peer}", s.handleSend)
		r.Get("/messages/{peer}", s.handleFetchMessages)
		r.Post("/messages/{peer}/ack", s.handleAck)
	})
	return r
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RelayRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		s.metrics.RelayRequestSecs.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var up domain.BundleUpload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&up); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if up.PeerID == "" || up.IdentityKey.IsZero() || up.SignedPreKey.IsZero() || len(up.SignedPreKeySignature) == 0 {
		http.Error(w, "incomplete bundle", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	e, ok := s.bundles[up.PeerID]
	if !ok || e.bundle.IdentityKey != up.IdentityKey {
		e = &directoryEntry{}
		s.bundles[up.PeerID] = e
	}
	e.bundle = up.PreKeyBundle
	e.bundle.OneTimePreKey = nil
	seen := make(map[domain.OneTimePreKeyID]bool, len(e.oneTime))
	for _, k := range e.oneTime {
		seen[k.ID] = true
	}
	for _, k := range up.OneTimePreKeys {
		if !seen[k.ID] {
			e.oneTime = append(e.oneTime, k)
		}
	}
	queued := len(e.oneTime)
	s.mu.Unlock()

	level.Info(s.logger).Log("msg", "bundle registered", "peer", up.PeerID, "spk", up.SignedPreKeyID, "one_time", queued)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFetchBundle(w http.ResponseWriter, r *http.Request) {
	peer := domain.PeerID(chi.URLParam(r, "peer"))

	s.mu.Lock()
	e, ok := s.bundles[peer]
	var b domain.PreKeyBundle
	if ok {
		b = e.bundle
		if len(e.oneTime) > 0 {
			k := e.oneTime[0]
			e.oneTime = e.oneTime[1:]
			b.OneTimePreKey = &k
		}
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, "unknown peer", http.StatusNotFound)
		return
	}
	s.metrics.PreKeysIssuedTotal.WithLabelValues(strconv.FormatBool(b.OneTimePreKey != nil)).Inc()
	if b.OneTimePreKey == nil {
		level.Warn(s.logger).Log("msg", "bundle served without one-time pre-key", "peer", peer)
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	to := domain.PeerID(chi.URLParam(r, "peer"))
	var req SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Data) == 0 {
		http.Error(w, "empty envelope", http.StatusBadRequest)
		return
	}

	in := domain.Inbound{
		ID:        uuid.NewString(),
		From:      req.From,
		To:        to,
		Data:      req.Data,
		Timestamp: s.now().Unix(),
	}
	s.mu.Lock()
	if len(s.mailboxes[to]) >= maxMailbox {
		s.mu.Unlock()
		http.Error(w, "mailbox full", http.StatusInsufficientStorage)
		return
	}
	s.mailboxes[to] = append(s.mailboxes[to], in)
	s.metrics.RelayQueuedTotal.Inc()
	s.mu.Unlock()

	level.Debug(s.logger).Log("msg", "envelope queued", "id", in.ID, "to", to, "from", req.From, "bytes", len(req.Data))
	writeJSON(w, http.StatusAccepted, map[string]string{"id": in.ID})
}

func (s *Server) handleFetchMessages(w http.ResponseWriter, r *http.Request) {
	peer := domain.PeerID(chi.URLParam(r, "peer"))
	limit := defaultFetchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	s.mu.Lock()
	box := s.mailboxes[peer]
	if len(box) > limit {
		box = box[:limit]
	}
	out := append([]domain.Inbound(nil), box...)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	peer := domain.PeerID(chi.URLParam(r, "peer"))
	var req AckRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Count < 0 {
		http.Error(w, "invalid ack", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	box := s.mailboxes[peer]
	n := req.Count
	if n > len(box) {
		n = len(box)
	}
	s.mailboxes[peer] = box[n:]
	s.metrics.RelayQueuedTotal.Sub(float64(n))
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
