// Package server exposes the wallet session and loan operations as JSON
// endpoints for the marketplace views.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vaultlend/internal/hmacauth"
	"vaultlend/internal/idempotency"
	"vaultlend/internal/lending"
	"vaultlend/internal/notice"
	"vaultlend/internal/wallet"
)

const (
	headerRequestID   = "X-Request-Id"
	headerIdempotency = "X-Idempotency-Key"
	headerReplay      = "X-Idempotent-Replay"
	maxBodyBytes      = 1 << 20

	defaultIdempotencyWindow = 10 * time.Minute
)

var errBadRequest = errors.New("bad request")

// Wallet is the session surface the views drive.
type Wallet interface {
	Session() wallet.Session
	State() wallet.State
	RequiredChainID() uint64
	Active() (wallet.Conn, error)
	Connect(ctx context.Context, kind wallet.Kind) (wallet.Session, error)
	Disconnect() error
	SwitchNetwork(ctx context.Context, chainID uint64) error
}

// Loans is the contract surface plus the pending indicator.
type Loans interface {
	lending.Client
	Loading() bool
}

// Pairings exposes the relay backend's current pairing.
type Pairings interface {
	Pairing() (wallet.Pairing, bool)
}

type Config struct {
	HTTPPort          int
	HMACSecret        string
	HMACClockSkew     time.Duration
	IdempotencyWindow time.Duration
}

type Deps struct {
	Wallet   Wallet
	Loans    Loans
	Store    idempotency.Store
	Notices  *notice.Board
	Networks *wallet.Networks
	// Pairings is nil when no relay backend is configured.
	Pairings Pairings
	// RPCHealth probes the chain node; nil skips the check.
	RPCHealth func(context.Context) error
}

type Server struct {
	cfg        Config
	wallet     Wallet
	loans      Loans
	store      idempotency.Store
	locks      *idempotency.KeyLock
	notices    *notice.Board
	networks   *wallet.Networks
	pairings   Pairings
	hmac       *hmacauth.Verifier
	httpServer *http.Server
	metrics    *metricsRegistry
	log        *zap.Logger

	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error
}

func NewServer(cfg Config, deps Deps, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.IdempotencyWindow <= 0 {
		cfg.IdempotencyWindow = defaultIdempotencyWindow
	}
	if deps.Store == nil {
		deps.Store = idempotency.NewMemoryStore()
	}
	if deps.Notices == nil {
		deps.Notices = notice.NewBoard(0, 0)
	}

	s := &Server{
		cfg:         cfg,
		wallet:      deps.Wallet,
		loans:       deps.Loans,
		store:       deps.Store,
		locks:       idempotency.NewKeyLock(),
		notices:     deps.Notices,
		networks:    deps.Networks,
		pairings:    deps.Pairings,
		metrics:     newMetricsRegistry(),
		log:         log.Named("http"),
		rpcHealthFn: deps.RPCHealth,
	}
	s.hmac = &hmacauth.Verifier{
		Secret:  cfg.HMACSecret,
		MaxSkew: cfg.HMACClockSkew,
		OnError: func(w http.ResponseWriter, _ *http.Request, err error) {
			s.writeError(w, err)
		},
	}
	if checker, ok := deps.Store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/session", s.handleSession)
	mux.HandleFunc("POST /api/v1/wallet/connect", s.handleConnect)
	mux.HandleFunc("POST /api/v1/wallet/disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /api/v1/wallet/switch-network", s.handleSwitchNetwork)
	mux.HandleFunc("GET /api/v1/wallet/pairing", s.handlePairing)
	mux.HandleFunc("POST /api/v1/loans", s.handleCreateLoan)
	mux.HandleFunc("POST /api/v1/loans/preview", s.handlePreview)
	mux.HandleFunc("GET /api/v1/loans/events", s.handleLoanEvents)
	mux.HandleFunc("GET /api/v1/loans/{id}", s.handleLoanInfo)
	mux.HandleFunc("POST /api/v1/loans/{id}/fund", s.handleFundLoan)
	mux.HandleFunc("POST /api/v1/loans/{id}/repay", s.handleRepayLoan)
	mux.HandleFunc("POST /api/v1/fhe/add", s.handleFHEAdd)
	mux.HandleFunc("POST /api/v1/fhe/mul", s.handleFHEMul)
	mux.HandleFunc("POST /api/v1/fhe/interest", s.handleInterest)
	mux.HandleFunc("GET /api/v1/notifications", s.handleNotifications)
	mux.HandleFunc("POST /api/v1/notifications/dismiss", s.handleDismiss)
	mux.Handle("GET /api/v1/metrics", s.metrics.handler())
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           s.Handler(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// Handler wraps mux with request IDs, access logging and signature checks.
func (s *Server) Handler(mux http.Handler) http.Handler {
	return s.requestIDMiddleware(s.accessLog(s.hmac.Middleware(mux)))
}

func (s *Server) Start() error {
	s.log.Info("API listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleNotifications(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": s.notices.Active()})
}

type dismissRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	var req dismissRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.ID == "" {
		s.writeError(w, fmt.Errorf("%w: id is required", errBadRequest))
		return
	}
	if !s.notices.Dismiss(req.ID) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "notification not found", Code: "NOT_FOUND"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		rpcInfo.Connected = true
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status   string       `json:"status"`
		RPC      interface{}  `json:"rpc"`
		Database interface{}  `json:"database"`
		Wallet   wallet.State `json:"wallet"`
	}{
		Status:   status,
		RPC:      rpcInfo,
		Database: dbInfo,
		Wallet:   s.wallet.State(),
	}

	code := http.StatusOK
	if !overallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(headerRequestID, id)
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.incRequest(r.Method, strconv.Itoa(rec.status))
		s.log.Debug("request",
			zap.String("id", r.Header.Get(headerRequestID)),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)),
		)
	})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, resp := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Warn("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid json payload: %v", errBadRequest, err)
	}
	return nil
}
