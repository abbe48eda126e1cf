package deliveryapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/maypok86/otter"

	"github.com/nudgekit/herald/internal/cache"
	"github.com/nudgekit/herald/internal/campaign"
	"github.com/nudgekit/herald/internal/delivery"
	"github.com/nudgekit/herald/internal/store"
	"github.com/nudgekit/herald/internal/validation"
)

// Deliverer is the delivery engine as the API sees it.
type Deliverer interface {
	Deliver(ctx context.Context, req delivery.Request) *campaign.Campaign
}

// Compile-time check against the concrete engine.
var _ Deliverer = (*delivery.Engine)(nil)

// API holds the router and the dependencies of every handler.
// Repositories are injected as interfaces so handlers are testable with fakes.
type API struct {
	// Router is the chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	engine    Deliverer
	campaigns store.CampaignRepository
	events    store.EventRepository
	users     store.UserRepository
	orgs      store.OrganizationRepository
	cache     cache.Service

	// authCache memoizes API-key lookups so the hot fetch path does not
	// pay a database round trip per request.
	authCache otter.Cache[string, *store.Organization]
}

// Config bundles the API constructor arguments.
type Config struct {
	Engine    Deliverer
	Campaigns store.CampaignRepository
	Events    store.EventRepository
	Users     store.UserRepository
	Orgs      store.OrganizationRepository
	Cache     cache.Service

	// AuthCacheSize caps the number of memoized API keys.
	AuthCacheSize int
	// AuthCacheTTL bounds how long a revoked key keeps working.
	AuthCacheTTL time.Duration
}

// NewAPI wires the REST surface. All dependencies are mandatory.
func NewAPI(cfg Config) (*API, error) {
	validation.AssertNotNil(cfg.Engine, "delivery engine")
	validation.AssertNotNil(cfg.Campaigns, "campaign repository")
	validation.AssertNotNil(cfg.Events, "event repository")
	validation.AssertNotNil(cfg.Users, "user repository")
	validation.AssertNotNil(cfg.Orgs, "organization repository")
	validation.AssertNotNil(cfg.Cache, "cache service")

	if cfg.AuthCacheSize <= 0 {
		cfg.AuthCacheSize = 1024
	}
	if cfg.AuthCacheTTL <= 0 {
		cfg.AuthCacheTTL = time.Minute
	}

	authCache, err := otter.MustBuilder[string, *store.Organization](cfg.AuthCacheSize).
		WithTTL(cfg.AuthCacheTTL).
		Build()
	if err != nil {
		return nil, err
	}

	api := &API{
		Router:    chi.NewRouter(),
		engine:    cfg.Engine,
		campaigns: cfg.Campaigns,
		events:    cfg.Events,
		users:     cfg.Users,
		orgs:      cfg.Orgs,
		cache:     cfg.Cache,
		authCache: authCache,
	}

	api.configureRoutes()
	return api, nil
}

// configureRoutes registers the global middleware stack and the endpoints.
func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(RequestLogger)
	a.Router.Use(MetricsCollector)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	// Public routes (no authentication required).
	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		// SDK surface: authenticated with the publishable key the app ships.
		r.Route("/nudge", func(r chi.Router) {
			r.Use(a.authenticate("sdk", a.orgs.GetByAPIKey))

			r.Get("/fetch", a.handleFetch)
			r.Post("/track", a.handleTrack)
			r.Post("/identify", a.handleIdentify)
			r.Get("/user", a.handleGetUser)
		})

		// Management surface: authenticated with the tenant's secret key.
		r.Route("/campaigns", func(r chi.Router) {
			r.Use(a.authenticate("mgmt", a.orgs.GetBySecretKey))

			r.Post("/", a.handleCreateCampaign)
			r.Get("/", a.handleListCampaigns)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetCampaign)
				r.Patch("/", a.handleUpdateCampaign)
				r.Delete("/", a.handleArchiveCampaign)
			})
		})
	})
}

// handleHealthCheck confirms the process is serving HTTP. Deep dependency
// checks live on the observability server's readiness probe.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
