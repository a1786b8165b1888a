package order

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"
)

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "GET, POST, PUT, DELETE, OPTIONS",
	"Access-Control-Allow-Headers": "Content-Type, Authorization",
	"Access-Control-Max-Age":       "3600",
}

// Server exposes the order workflow as a JSON API
type Server struct {
	service   *Service
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials. Both empty disables auth.
type BasicAuth struct {
	Username string
	Password string
}

func (b BasicAuth) enabled() bool {
	return b.Username != "" || b.Password != ""
}

func (b BasicAuth) allows(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(b.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(b.Password)) == 1
	return userOK && passOK
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"POST /api/orders", s.handleCreateOrder},
		{"GET /api/orders", s.handleListOrders},
		{"GET /api/orders/{id}", s.handleGetOrder},
		{"DELETE /api/orders/{id}", s.handleDeleteOrder},
		{"GET /api/orders/{id}/file", s.handleGetOrderFile},
		{"PUT /api/orders/{id}/lines/{index}", s.handleEditLine},

		{"POST /api/orders/{id}/reconcile", s.handleReconcile},
		{"POST /api/orders/{id}/items", s.handleAddItem},
		{"DELETE /api/orders/{id}/items/{item}", s.handleRemoveItem},
		{"POST /api/orders/{id}/items/{item}/select", s.handleSelect},
		{"POST /api/orders/{id}/items/{item}/search/open", s.handleOpenSearch},
		{"POST /api/orders/{id}/items/{item}/search", s.handleSearch},
		{"DELETE /api/orders/{id}/items/{item}/search", s.handleCancelSearch},
		{"POST /api/orders/{id}/items/{item}/attach", s.handleAttach},
		{"POST /api/orders/{id}/proceed", s.handleProceed},

		{"GET /api/learning/mappings", s.handleListMappings},
		{"GET /api/learning/mappings/{term}", s.handleGetMapping},
		{"GET /api/learning/missing", s.handleListMissing},
	}
	for _, route := range routes {
		s.mux.HandleFunc(route.pattern, s.protect(route.handler))
	}
}

// protect rejects requests without valid credentials when auth is enabled
func (s *Server) protect(next http.HandlerFunc) http.HandlerFunc {
	if !s.basicAuth.enabled() {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.basicAuth.allows(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Exam Quote"`)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Unauthorized"})
			return
		}
		next(w, r)
	}
}

// Handler returns the routes with CORS headers on every response. Preflight requests
// are answered before routing so they never need credentials.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range corsHeaders {
			w.Header().Set(k, v)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.mux.ServeHTTP(w, r)
	})
}

// Start serves the API until the listener fails
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
