package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kcc-issuer/pkg/platform/middleware/metadata"
	"kcc-issuer/pkg/platform/middleware/request"
)

const (
	// CredentialsPrefix is where the issuer routes are mounted.
	CredentialsPrefix = "/api/credentials"

	defaultBodyLimit      = 64 << 10
	defaultRequestTimeout = 60 * time.Second
)

// RouteRegistrar mounts a group of routes. Satisfied by the credential and health handlers.
type RouteRegistrar interface {
	Register(r chi.Router)
}

// Dependencies collects everything the router needs. Nil optional fields are skipped.
type Dependencies struct {
	Logger      *slog.Logger
	Credentials RouteRegistrar
	Health      RouteRegistrar

	Metadata *metadata.Middleware
	Metrics  *request.Metrics
	Gatherer prometheus.Gatherer

	BodyLimit      int64
	RequestTimeout time.Duration
}

// NewRouter wires all public endpoints with middleware.
func NewRouter(deps Dependencies) http.Handler {
	if deps.BodyLimit <= 0 {
		deps.BodyLimit = defaultBodyLimit
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = defaultRequestTimeout
	}
	if deps.Metadata == nil {
		deps.Metadata = metadata.NewMiddleware(metadata.Config{})
	}

	r := chi.NewRouter()

	r.Use(request.Recovery(deps.Logger))
	r.Use(request.RequestID)
	r.Use(request.RequestTime)
	r.Use(deps.Metadata.Handler)
	r.Use(request.Logger(deps.Logger))
	r.Use(request.Latency(deps.Metrics))

	if deps.Health != nil {
		deps.Health.Register(r)
	}
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route(CredentialsPrefix, func(r chi.Router) {
		r.Use(request.Timeout(deps.RequestTimeout))
		r.Use(request.BodyLimit(deps.BodyLimit))
		r.Use(request.ContentTypeJSON)
		deps.Credentials.Register(r)
	})

	return r
}
