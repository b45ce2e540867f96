package httpapi

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"perparb/internal/domain/model"
	"perparb/internal/infrastructure/connector"
)

// OpportunitySource is the engine's read side.
type OpportunitySource interface {
	Result() *model.Result
}

type StatusSource interface {
	Exchanges() []string
	ExchangeStatus(exchange string) (connector.Status, bool)
}

type FundingSource interface {
	FundingList(exchange string) []model.FundingSnapshot
}

type Deps struct {
	Opportunities OpportunitySource
	Status        StatusSource
	Funding       FundingSource
	Metrics       http.Handler // nil disables /metrics
}

type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New builds the read-only status API.
func New(deps Deps, opts Options) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "perparb",
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})
	SetupRoutes(app, deps)
	return app
}

func SetupRoutes(app *fiber.App, deps Deps) {
	h := &handler{deps: deps}

	app.Get("/healthz", h.health)
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics))
	}

	v1 := app.Group("/v1")
	v1.Get("/opportunities", h.opportunities)
	v1.Get("/exchanges", h.exchanges)
	v1.Get("/exchanges/:name", h.exchange)
	v1.Get("/exchanges/:name/funding", h.funding)
}
