package web

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Server binds the inbound REST+SSE surface onto a net/http.ServeMux.
type Server struct {
	mux       *http.ServeMux
	responses *ResponsesHandler
	servers   *ServersHandler
	policies  *PoliciesHandler

	addr string
}

// NewServer builds a Server listening on addr once Start is called.
func NewServer(addr string, responses *ResponsesHandler, servers *ServersHandler, policies *PoliciesHandler) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		responses: responses,
		servers:   servers,
		policies:  policies,
		addr:      addr,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /responses/stream", s.responses.HandleStream)
	s.mux.HandleFunc("POST /responses/approval-response", s.responses.HandleApprovalResponse)

	s.mux.HandleFunc("GET /mcp/servers", s.servers.HandleList)
	s.mux.HandleFunc("POST /mcp/servers", s.servers.HandleCreate)
	s.mux.HandleFunc("GET /mcp/servers/{id}", s.servers.HandleGet)
	s.mux.HandleFunc("DELETE /mcp/servers/{id}", s.servers.HandleDelete)
	s.mux.HandleFunc("POST /mcp/servers/{id}/verify", s.servers.HandleVerify)
	s.mux.HandleFunc("POST /mcp/servers/{id}/sync", s.servers.HandleSync)
	s.mux.HandleFunc("GET /mcp/servers/{id}/capabilities", s.servers.HandleCapabilities)
	s.mux.HandleFunc("GET /mcp/servers/{id}/status/stream", s.servers.HandleStatusStream)

	s.mux.HandleFunc("GET /mcp/servers/{id}/tools/approval-policies", s.policies.HandleListForServer)
	s.mux.HandleFunc("GET /mcp/servers/{id}/tools/{tool}/approval-policy", s.policies.HandleGet)
	s.mux.HandleFunc("PUT /mcp/servers/{id}/tools/{tool}/approval-policy", s.policies.HandlePut)
	s.mux.HandleFunc("DELETE /mcp/servers/{id}/tools/{tool}/approval-policy", s.policies.HandleDelete)
}

// Handler returns the fully-routed handler, wrapped with the request-id
// logging middleware. Exposed for tests.
func (s *Server) Handler() http.Handler {
	return requestID(s.mux)
}

// requestID stamps each request with a uuid and logs it on completion,
// attaching the id to the request context's logger.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		logger := log.With().Str("request_id", id).Str("method", r.Method).Str("path", r.URL.Path).Logger()
		r = r.WithContext(logger.WithContext(r.Context()))
		w.Header().Set("X-Request-Id", id)

		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug().Dur("elapsed", time.Since(start)).Msg("web: request done")
	})
}

// Start listens on the configured address and blocks until SIGINT/SIGTERM,
// then shuts down gracefully, waiting up to 10s for in-flight requests so
// deferred cleanup (registry.CloseAll, store.Close) runs reliably.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("web: shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("web: graceful shutdown error")
		}
	}()

	log.Info().Str("addr", s.addr).Msg("web: listening")
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
