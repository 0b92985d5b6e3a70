// Package api exposes the HTTP surface: account, community and content
// operations over the secured services, plus health and metrics endpoints.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agora-net/agora/pkg/accounts"
	"github.com/agora-net/agora/pkg/authz"
	"github.com/agora-net/agora/pkg/communities"
	"github.com/agora-net/agora/pkg/content"
	"github.com/agora-net/agora/pkg/httputil"
	"github.com/agora-net/agora/pkg/middleware"
	"github.com/agora-net/agora/pkg/observability"
	"github.com/agora-net/agora/pkg/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	accounts    *accounts.Service
	communities *communities.Service
	content     *content.Service
	registry    *authz.Registry
	store       storage.Store
	log         *observability.Logger
	metrics     *observability.Metrics
	router      *mux.Router
}

// NewServer wires the routes and middleware.
func NewServer(
	acc *accounts.Service,
	com *communities.Service,
	cnt *content.Service,
	reg *authz.Registry,
	store storage.Store,
	log *observability.Logger,
	metrics *observability.Metrics,
) *Server {
	s := &Server{
		accounts:    acc,
		communities: com,
		content:     cnt,
		registry:    reg,
		store:       store,
		log:         log,
		metrics:     metrics,
		router:      mux.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logging(s.log))
	s.router.Use(middleware.ResolveIdentity(s.store, s.log))

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	s.handle(api, http.MethodGet, "/templates", s.handleListTemplates)

	s.handle(api, http.MethodPost, "/accounts", s.handleRegister)
	s.handle(api, http.MethodGet, "/accounts", s.handleListAccounts)
	s.handle(api, http.MethodGet, "/accounts/{id}", s.handleGetAccount)
	s.handle(api, http.MethodPatch, "/accounts/{id}", s.handleUpdateAccount)
	s.handle(api, http.MethodDelete, "/accounts/{id}", s.handleDeleteAccount)
	s.handle(api, http.MethodPost, "/accounts/{id}/follow", s.handleFollow)
	s.handle(api, http.MethodDelete, "/accounts/{id}/follow", s.handleUnfollow)

	s.handle(api, http.MethodPost, "/communities", s.handleCreateCommunity)
	s.handle(api, http.MethodGet, "/communities/{id}", s.handleGetCommunity)
	s.handle(api, http.MethodPatch, "/communities/{id}", s.handleUpdateCommunity)
	s.handle(api, http.MethodDelete, "/communities/{id}", s.handleDeleteCommunity)
	s.handle(api, http.MethodPost, "/communities/{id}/join", s.handleJoin)
	s.handle(api, http.MethodPost, "/communities/{id}/leave", s.handleLeave)
	s.handle(api, http.MethodGet, "/communities/{id}/members", s.handleListMembers)
	s.handle(api, http.MethodPut, "/communities/{id}/members/{account}/manager", s.handleSetManager)

	s.handle(api, http.MethodPost, "/content", s.handlePublish)
	s.handle(api, http.MethodGet, "/content", s.handleListContent)
	s.handle(api, http.MethodGet, "/content/{id}", s.handleGetContent)
	s.handle(api, http.MethodPatch, "/content/{id}", s.handleEditContent)
	s.handle(api, http.MethodDelete, "/content/{id}", s.handleDeleteContent)
}

// handle registers a route, instrumented with per-path metrics when enabled.
func (s *Server) handle(r *mux.Router, method, path string, fn http.HandlerFunc) {
	var h http.Handler = fn
	if s.metrics != nil {
		h = s.metrics.InstrumentHandler(path, h)
	}
	r.Handle(path, h).Methods(method)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()
	if err := s.store.HealthCheck(ctx); err != nil {
		httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "ok"})
}
