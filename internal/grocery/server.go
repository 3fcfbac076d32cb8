package grocery

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server handles HTTP requests for receipts, prices and cashback offers
type Server struct {
	service   *Service
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds the optional credentials guarding the API.
// Both fields empty disables authentication.
type BasicAuth struct {
	Username string
	Password string
}

// NewServer builds a Server on a fresh ServeMux
func NewServer(service *Service, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, basicAuth, http.NewServeMux())
}

// NewServerWithMux registers the routes on mux, which lets tests supply their own
func NewServerWithMux(service *Service, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate reports whether the request carries the configured credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true
	}

	username, password, ok := r.BasicAuth()
	if !ok {
		return false
	}

	userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(s.basicAuth.Username)) == 1
	passMatch := subtle.ConstantTimeCompare([]byte(password), []byte(s.basicAuth.Password)) == 1
	return userMatch && passMatch
}

// corsMiddleware answers preflight requests and sets CORS headers on the rest
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Grocery Tracker"`)
			writeError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes wires every API route onto s.mux
func (s *Server) registerRoutes() {
	// Receipts
	s.mux.HandleFunc("POST /api/receipts/text", s.requireAuth(s.handleCreateReceiptFromText))
	s.mux.HandleFunc("GET /api/receipts/{id}/file", s.requireAuth(s.handleGetReceiptFile))
	s.mux.HandleFunc("GET /api/receipts/{id}/analysis", s.requireAuth(s.handleAnalyzeReceipt))
	s.mux.HandleFunc("GET /api/receipts/{id}/export", s.requireAuth(s.handleExportAnalysis))
	s.mux.HandleFunc("GET /api/receipts/{id}", s.requireAuth(s.handleGetReceipt))
	s.mux.HandleFunc("DELETE /api/receipts/{id}", s.requireAuth(s.handleDeleteReceipt))
	s.mux.HandleFunc("GET /api/receipts", s.requireAuth(s.handleListReceipts))
	s.mux.HandleFunc("POST /api/receipts", s.requireAuth(s.handleUploadReceipt))

	// Prices
	s.mux.HandleFunc("GET /api/prices/{item}/history", s.requireAuth(s.handlePriceHistory))
	s.mux.HandleFunc("GET /api/prices/{item}/stores", s.requireAuth(s.handleCompareStores))
	s.mux.HandleFunc("GET /api/prices/{item}/best", s.requireAuth(s.handleBestPrice))
	s.mux.HandleFunc("GET /api/prices", s.requireAuth(s.handleListItems))
	s.mux.HandleFunc("POST /api/observations", s.requireAuth(s.handleRecordObservation))

	// Cashback offers
	s.mux.HandleFunc("GET /api/cashback-offers", s.requireAuth(s.handleListCashbackOffers))
	s.mux.HandleFunc("POST /api/cashback-offers", s.requireAuth(s.handleCreateCashbackOffer))

	// Operational endpoints stay open for probes and scrapers
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns the mux wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// Start listens on addr until the server fails
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
