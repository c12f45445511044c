package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"wastewatch/internal/ingest"
	"wastewatch/internal/log"
	"wastewatch/internal/middleware/ratelimit"
	"wastewatch/internal/middleware/security"
	"wastewatch/internal/middleware/trace"
	"wastewatch/internal/session"
)

const (
	DefaultMaxBodyBytes = 1 << 20
	readyTimeout        = 2 * time.Second
	wsWriteTimeout      = 10 * time.Second
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Session  *session.Session
	Receiver ingest.Receiver
	// Ready is checked by /readyz; nil means always ready.
	Ready  Pinger
	Logger *log.Logger
	// RequestsPerMinute limits mutating requests per client.
	RequestsPerMinute int
	MaxBodyBytes      int64
	// TrustedProxies are CIDRs whose X-Forwarded-For is believed.
	TrustedProxies []string
}

// Server wraps http.Server with the dashboard routes.
type Server struct {
	http.Server
	session  *session.Session
	receiver ingest.Receiver
	ready    Pinger
	logger   *log.Logger
	maxBody  int64

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	upgrader websocket.Upgrader

	socketsMu    sync.Mutex
	sockets      map[*websocket.Conn]struct{}
	closing      bool
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// server.
func NewServer(addr string, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Receiver == nil {
		opts.Receiver = ingest.NewRouter(opts.Session, opts.Logger)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	logger := opts.Logger.WithComponent(log.ComponentHTTP)

	detector := security.NewDetector()
	for _, cidr := range opts.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", log.FieldError, err)
		}
	}

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		session:  opts.Session,
		receiver: opts.Receiver,
		ready:    opts.Ready,
		logger:   logger,
		maxBody:  opts.MaxBodyBytes,
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RequestsPerMinute}),
		detector: detector,
		tracer:   trace.NewMiddleware(detector.ExtractClientIP, opts.Logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		sockets: make(map[*websocket.Conn]struct{}),
	}

	limited := s.limiter.Middleware(detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		logger.WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, detector.ExtractClientIP(r),
			log.FieldPath, r.URL.Path)
		TooManyRequestsError().Write(w)
	})

	api := http.NewServeMux()
	api.HandleFunc("GET /api/dashboard", s.handleDashboard)
	api.HandleFunc("GET /api/collections", s.handleCollections)
	api.HandleFunc("GET /api/compartments", s.handleCompartments)
	api.Handle("POST /api/compartments/reset", limited(http.HandlerFunc(s.handleResetAll)))
	api.Handle("POST /api/compartments/{id}/reset", limited(http.HandlerFunc(s.handleResetOne)))
	api.HandleFunc("GET /api/state", s.handleGetState)
	api.Handle("PATCH /api/state", limited(http.HandlerFunc(s.handlePatchState)))
	api.Handle("POST /api/ingest", limited(http.HandlerFunc(s.handleIngest)))
	api.Handle("GET /ws/ingest", limited(http.HandlerFunc(s.handleIngestSocket)))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	var h http.Handler = api
	h = detector.Middleware(opts.Logger)(h)
	h = headers.Middleware(h)
	h = log.Middleware(logger, trace.GetRequestID)(h)
	h = s.tracer.Middleware(h)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.Handle("/", h)
	s.Handler = mux

	return s
}

// Shutdown stops the limiter, closes open WebSocket clients and then
// shuts the HTTP server down.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		s.closeSockets()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewResponse().JSON(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			s.logger.WarnContext(ctx, "Readiness check failed", log.FieldError, err)
			ErrorResponse(http.StatusServiceUnavailable, "record store unavailable").Write(w)
			return
		}
	}
	NewResponse().JSON(map[string]string{"status": "ready"}).Write(w)
}
