// Package http exposes the invoice and movement operations as a JSON API.
package http

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"gestionale/internal/cache"
	"gestionale/internal/core"
	applog "gestionale/internal/log"
	"gestionale/internal/middleware/trace"
	"gestionale/internal/services"
	"gestionale/internal/storage"
)

// appMetrics tracks application-level counters exposed on /metrics.
type appMetrics struct {
	movementsCreated int64
	statusSyncs      int64
	cacheHits        int64
	cacheMisses      int64
	started          time.Time
}

type Server struct {
	http.Server

	movements        *services.MovementService
	statusSync       *services.StatusSyncService
	storage          *storage.SQLiteRepository
	defaultCompanyID string

	rateLimiter     *rateLimiter
	securityMetrics *securityMetrics
	traceMiddleware *trace.Middleware
	appMetrics      *appMetrics

	// Dashboard reads are cached; movement writes invalidate by company+year.
	cashflowCache  *cache.LRUCache[core.CashflowOverview]
	movementsCache *cache.LRUCache[[]core.Movement]
	cacheManager   *cache.Manager

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr, defaultCompanyID string, movements *services.MovementService, statusSync *services.StatusSyncService, repo *storage.SQLiteRepository) *Server {
	mux := http.NewServeMux()

	s := &Server{
		movements:        movements,
		statusSync:       statusSync,
		storage:          repo,
		defaultCompanyID: defaultCompanyID,
		rateLimiter:      newRateLimiter(60, time.Minute),
		securityMetrics:  &securityMetrics{},
		traceMiddleware:  trace.NewMiddleware(extractClientIP),
		appMetrics:       &appMetrics{started: time.Now()},
		cashflowCache:    cache.NewLRUCache[core.CashflowOverview](50, 5*time.Minute),
		movementsCache:   cache.NewLRUCache[[]core.Movement](200, 5*time.Minute),
		cacheManager:     cache.NewManager(),
	}
	s.cacheManager.Register(s.cashflowCache)
	s.cacheManager.Register(s.movementsCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("POST /api/invoices", s.protect(s.handleCreateInvoice))
	mux.HandleFunc("GET /api/invoices/{id}", s.protect(s.handleGetInvoice))
	mux.HandleFunc("PUT /api/invoices/{id}/status", s.protect(s.handleUpdateInvoiceStatus))
	mux.HandleFunc("POST /api/invoices/{id}/create-movement", s.protect(s.handleCreateMovement))
	mux.HandleFunc("POST /api/invoices/{id}/sync-status", s.protect(s.handleSyncStatus))

	mux.HandleFunc("GET /api/movements", s.protect(s.handleListMovements))
	mux.HandleFunc("GET /api/movements/{id}", s.protect(s.handleGetMovement))
	mux.HandleFunc("GET /api/dashboard/cashflow", s.protect(s.handleCashflow))

	// Trace runs first so the request id exists before the logger picks
	// it up.
	logger := applog.New(applog.DefaultConfig()).WithComponent(applog.ComponentHTTP)
	handler := applog.RequestIDMiddleware(func(r *http.Request) string {
		return trace.GetRequestID(r.Context())
	})(mux)
	handler = applog.Middleware(logger)(handler)

	s.Server = http.Server{
		Addr:    addr,
		Handler: s.traceMiddleware.Middleware(handler),
	}
	return s
}

// protect adds security headers, suspicious-request detection and rate
// limiting for mutating methods.
func (s *Server) protect(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientIP := extractClientIP(r)

		detectSuspiciousRequest(r, s.securityMetrics)

		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP, s.securityMetrics) {
			w.Header().Set("Retry-After", strconv.Itoa(int(s.rateLimiter.window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded. Please try again later.")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next(w, r)
	}
}

func (s *Server) cacheKey(companyID string, year int) string {
	return companyID + "-" + strconv.Itoa(year)
}

func (s *Server) monthCacheKey(companyID string, year, month int) string {
	return companyID + "-" + strconv.Itoa(year) + "-" + strconv.Itoa(month)
}

// invalidateCompanyYear drops the cached dashboard and listing data a new
// movement makes stale.
func (s *Server) invalidateCompanyYear(companyID string, year int) {
	s.cashflowCache.Delete(s.cacheKey(companyID, year))
	for month := 1; month <= 12; month++ {
		s.movementsCache.Delete(s.monthCacheKey(companyID, year, month))
	}
}

// Shutdown gracefully shuts down the server and its cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

func (s *Server) countMovementCreated() {
	atomic.AddInt64(&s.appMetrics.movementsCreated, 1)
}

func (s *Server) countStatusSync() {
	atomic.AddInt64(&s.appMetrics.statusSyncs, 1)
}
