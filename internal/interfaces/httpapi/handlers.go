package httpapi

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"perparb/internal/domain/model"
	"perparb/internal/infrastructure/connector"
)

type handler struct {
	deps Deps
}

func badRequest(c fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

// Handles GET /v1/opportunities?limit=N&min_spread=X.
func (h *handler) opportunities(c fiber.Ctx) error {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return badRequest(c, "limit must be a non-negative integer")
		}
		limit = n
	}
	minSpread := 0.0
	if v := c.Query("min_spread"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return badRequest(c, "min_spread must be a number")
		}
		minSpread = f
	}

	res := h.deps.Opportunities.Result()
	if res == nil {
		return c.JSON(fiber.Map{"opportunities": []model.Opportunity{}, "updated_at": nil})
	}

	out := make([]model.Opportunity, 0, len(res.Opportunities))
	for _, o := range res.Opportunities {
		if o.PriceSpreadPct < minSpread {
			continue
		}
		out = append(out, o)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return c.JSON(fiber.Map{
		"cycle_id":      res.CycleID,
		"updated_at":    res.UpdatedAt,
		"opportunities": out,
	})
}

// Handles GET /v1/exchanges.
func (h *handler) exchanges(c fiber.Ctx) error {
	names := h.deps.Status.Exchanges()
	out := make([]connector.Status, 0, len(names))
	for _, name := range names {
		if st, ok := h.deps.Status.ExchangeStatus(name); ok {
			out = append(out, st)
		}
	}
	return c.JSON(fiber.Map{"exchanges": out})
}

// Handles GET /v1/exchanges/:name.
func (h *handler) exchange(c fiber.Ctx) error {
	name := strings.ToLower(c.Params("name"))
	st, ok := h.deps.Status.ExchangeStatus(name)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "exchange not enabled"})
	}
	return c.JSON(st)
}

// Handles GET /v1/exchanges/:name/funding.
func (h *handler) funding(c fiber.Ctx) error {
	name := strings.ToLower(c.Params("name"))
	if _, ok := h.deps.Status.ExchangeStatus(name); !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "exchange not enabled"})
	}
	fs := h.deps.Funding.FundingList(name)
	sort.Slice(fs, func(i, j int) bool { return fs[i].Symbol.String() < fs[j].Symbol.String() })
	if fs == nil {
		fs = []model.FundingSnapshot{}
	}
	return c.JSON(fiber.Map{"exchange": name, "funding": fs})
}

// Handles GET /healthz. Healthy while at least one exchange is connected.
func (h *handler) health(c fiber.Ctx) error {
	names := h.deps.Status.Exchanges()
	connected := 0
	for _, name := range names {
		if st, ok := h.deps.Status.ExchangeStatus(name); ok && st.State == model.StateConnected {
			connected++
		}
	}
	body := fiber.Map{
		"status":    "ok",
		"connected": connected,
		"exchanges": len(names),
	}
	if res := h.deps.Opportunities.Result(); res != nil {
		body["last_cycle"] = res.UpdatedAt.Format(time.RFC3339)
	}
	if connected == 0 {
		body["status"] = "degraded"
		return c.Status(fiber.StatusServiceUnavailable).JSON(body)
	}
	return c.JSON(body)
}
