// Package server is the thin HTTP layer over the submission core. It
// resolves identities, translates the core error taxonomy onto HTTP
// statuses, and otherwise delegates.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"

	"github.com/EBIvariation/eva-submission-ws-sub000/internal/account"
	"github.com/EBIvariation/eva-submission-ws-sub000/internal/provision"
	"github.com/EBIvariation/eva-submission-ws-sub000/internal/registry"
	"github.com/EBIvariation/eva-submission-ws-sub000/internal/schemas"
)

// AccountResolver turns a bearer token into an account identity.
type AccountResolver interface {
	Resolve(ctx context.Context, bearer string) (*account.Account, error)
}

// DeviceFlow is the device-code authentication surface.
type DeviceFlow interface {
	Begin(ctx context.Context) (*oauth2.DeviceAuthResponse, error)
	PollForToken(ctx context.Context, deviceCode string, maxWait time.Duration) (*oauth2.Token, error)
}

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	registry    *registry.Registry
	resolver    AccountResolver
	schemaCache *schemas.Cache
	provisioner *provision.Provisioner
	device      DeviceFlow

	adminToken     string
	uploadRootPath string
	logger         *slog.Logger
}

// Options carries the collaborators a Server needs. Nil optional fields
// disable the corresponding routes' behavior gracefully.
type Options struct {
	Registry       *registry.Registry
	Resolver       AccountResolver
	SchemaCache    *schemas.Cache
	Provisioner    *provision.Provisioner
	Device         DeviceFlow
	AdminToken     string
	UploadRootPath string
	Logger         *slog.Logger
}

// New creates a Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		registry:       opts.Registry,
		resolver:       opts.Resolver,
		schemaCache:    opts.SchemaCache,
		provisioner:    opts.Provisioner,
		device:         opts.Device,
		adminToken:     opts.AdminToken,
		uploadRootPath: opts.UploadRootPath,
		logger:         logger,
	}
}

// Router builds the route tree.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(s.logMiddleware)

	r.Route("/v1", func(r chi.Router) {
		// Device-code authentication is how a user obtains a bearer
		// token in the first place, so it is unauthenticated.
		r.Post("/auth/device", s.handleDeviceBegin)
		r.Post("/auth/device/token", s.handleDevicePoll)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/submissions", s.handleInitiate)
			r.Put("/submissions/{id}/uploaded", s.handleMarkUploaded)
			r.Get("/submissions/{id}/status", s.handleStatus)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.adminMiddleware)

			r.Put("/admin/submissions/{id}/status", s.handleOverrideStatus)
			r.Post("/admin/schemas/flush", s.handleSchemaFlush)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
