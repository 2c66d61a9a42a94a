package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"cryptomart/internal/authorization"
	"cryptomart/internal/ledger"
	"cryptomart/internal/middlewares"
	"cryptomart/internal/storage"
)

type HTTPRouter struct {
	mux        *chi.Mux
	storage    storage.Storage
	ledger     *ledger.Service
	authorizer authorization.Authorizer
	grant      decimal.Decimal
	limiter    *middlewares.RateLimiter
}

func NewHTTPRouter(s storage.Storage, l *ledger.Service, a authorization.Authorizer, grant decimal.Decimal, rl *middlewares.RateLimiter) *HTTPRouter {
	r := chi.NewRouter()
	return &HTTPRouter{mux: r, storage: s, ledger: l, authorizer: a, grant: grant, limiter: rl}
}

func (r *HTTPRouter) RouterInit() {
	storage := r.storage
	ledger := r.ledger
	authorizer := r.authorizer
	r.mux.Use(middleware.Logger)
	r.mux.Use(middleware.Compress(5))
	r.mux.Use(middlewares.Metrics)

	r.mux.Route("/api", func(api chi.Router) {
		api.Route("/user", func(u chi.Router) {
			u.Post("/register", RegisterPostHandler(storage, authorizer, r.grant))
			u.Post("/login", LoginPostHandler(storage, authorizer))
			u.Get("/balance", middlewares.Authorize(authorizer, BalanceGetHandler(storage)))
			u.Get("/payments", middlewares.Authorize(authorizer, PaymentsGetHandler(storage)))
			u.Get("/orders", middlewares.Authorize(authorizer, OrdersGetHandler(storage)))
		})

		api.Route("/conversion", func(c chi.Router) {
			c.Post("/estimate", middlewares.Authorize(authorizer, EstimatePostHandler(ledger)))
			c.Post("/", middlewares.Authorize(authorizer, ConversionPostHandler(ledger)))
		})

		// webhook carries no auth, the rate limiter guards it instead
		api.Post("/webhook/payment", middlewares.RateLimit(r.limiter, WebhookPostHandler(ledger)))

		api.Get("/collections/{collection}", middlewares.Authorize(authorizer, CollectionsGetHandler(ledger)))
	})

	r.mux.Handle("/metrics", promhttp.Handler())

	// Set NotFound handler
	r.mux.NotFound(NotFoundHandler())
}

// Mux exposes the assembled route tree for the http server and tests.
func (r *HTTPRouter) Mux() http.Handler {
	return r.mux
}

// Server builds the http server for the assembled route tree.
func (r *HTTPRouter) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
