package admin

import (
	"context"
	"fmt"
	"sort"

	"github.com/gofiber/fiber/v2"

	"finserv-backend/internal/resource"
	"finserv-backend/internal/store"
	"finserv-backend/internal/workflow"
)

// Product ties an application type name to its admin-view engine and its raw
// collection. The engine serves the cross-type CRUD routes; the collection is
// used directly for statistics.
type Product struct {
	Label  string
	Engine *resource.Engine
	Col    store.Collection
}

// Handler serves the back-office routes: agent management, application
// statistics and cross-type application access.
type Handler struct {
	users    store.Collection
	products map[string]Product
}

func NewHandler(users store.Collection, products map[string]Product) *Handler {
	return &Handler{users: users, products: products}
}

// RegisterRoutes mounts the admin surface on r. The application routes are
// parameterized by type so one set of handlers covers every product.
func (h *Handler) RegisterRoutes(r fiber.Router) {
	r.Get("/agents", h.ListAgents)
	r.Put("/users/:id/block", h.ToggleBlock)
	r.Get("/stats", h.Stats)
	r.Get("/applications/:type", h.withProduct((*resource.Engine).List))
	r.Get("/applications/:type/:id", h.withProduct((*resource.Engine).GetByID))
	r.Put("/applications/:type/:id", h.withProduct((*resource.Engine).UpdateByID))
	r.Delete("/applications/:type/:id", h.withProduct((*resource.Engine).DeleteByID))
}

// ListAgents handles GET /api/admin/agents with an optional substring search
// on the agent name.
func (h *Handler) ListAgents(c *fiber.Ctx) error {
	filter := store.Filter{"role": resource.RoleAgent}
	if q := c.Query("search"); q != "" {
		filter["name"] = store.Like{Substr: q}
	}

	agents, err := h.users.Find(c.Context(), filter, store.FindOptions{
		Select: "-password",
		Sort:   "-createdAt",
	})
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	if agents == nil {
		agents = []store.Record{}
	}

	return c.JSON(fiber.Map{
		"message": "agents fetched successfully",
		"data":    agents,
		"count":   int64(len(agents)),
	})
}

// ToggleBlock handles PUT /api/admin/users/:id/block. Admin accounts cannot
// be blocked.
func (h *Handler) ToggleBlock(c *fiber.Ctx) error {
	id := c.Params("id")

	user, err := h.users.FindByID(c.Context(), id)
	if err != nil {
		return resource.NotFoundError("user")
	}
	if role, _ := user["role"].(string); role == resource.RoleAdmin {
		return resource.ForbiddenError("Cannot block an admin account")
	}

	blocked, _ := user["isBlocked"].(bool)
	updated, err := h.users.FindOneAndUpdate(c.Context(),
		store.Filter{"id": id},
		store.Record{"isBlocked": !blocked})
	if err != nil {
		return fmt.Errorf("toggle block: %w", err)
	}

	return c.JSON(fiber.Map{
		"message": "user updated successfully",
		"data":    store.ApplySelect(updated, "-password"),
	})
}

// Stats handles GET /api/admin/stats. Optional query parameters: type (loan,
// credit, insurance; defaults to loan), from and to (inclusive createdAt
// bounds).
func (h *Handler) Stats(c *fiber.Ctx) error {
	typeName := c.Query("type", "loan")
	product, ok := h.products[typeName]
	if !ok {
		return resource.NotFoundError(typeName)
	}

	filter := store.Filter{}
	from, to := c.Query("from"), c.Query("to")
	if from != "" || to != "" {
		rng := store.Range{}
		if from != "" {
			rng.GTE = from
		}
		if to != "" {
			rng.LTE = to
		}
		filter["createdAt"] = rng
	}

	records, err := product.Col.Find(c.Context(), filter, store.FindOptions{})
	if err != nil {
		return fmt.Errorf("stats %s: %w", typeName, err)
	}

	byAgent := map[string]*agentTally{}
	total := len(records)
	accepted := 0
	for _, rec := range records {
		state := string(workflow.CurrentState(rec))
		if state == string(workflow.StateAccepted) {
			accepted++
		}
		agentID, _ := rec["agent"].(string)
		if agentID == "" {
			continue
		}
		tally := byAgent[agentID]
		if tally == nil {
			tally = &agentTally{Agent: agentID}
			byAgent[agentID] = tally
		}
		tally.Total++
		switch state {
		case string(workflow.StateAccepted):
			tally.Accepted++
		case string(workflow.StateMissingDocuments):
			tally.MissingDocuments++
		case string(workflow.StatePending):
			tally.Pending++
		}
	}

	agents := make([]agentTally, 0, len(byAgent))
	for _, id := range sortedAgentIDs(byAgent) {
		tally := byAgent[id]
		if tally.Total > 0 {
			tally.Percentage = float64(tally.Accepted) / float64(tally.Total) * 100
		}
		if err := h.fillAgentName(c.Context(), tally); err != nil {
			return err
		}
		agents = append(agents, *tally)
	}

	percentage := 0.0
	if total > 0 {
		percentage = float64(accepted) / float64(total) * 100
	}

	return c.JSON(fiber.Map{
		"message": "stats fetched successfully",
		"data": fiber.Map{
			"type":       typeName,
			"total":      total,
			"accepted":   accepted,
			"percentage": percentage,
			"agents":     agents,
		},
	})
}

// AgentStats returns a handler serving one agent's own tallies for the
// requested product type. Mounted on the agent surface.
func AgentStats(products map[string]Product) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor := resource.ActorFromCtx(c)
		if actor == nil {
			return resource.UnauthenticatedError("Unauthorized: user id required")
		}
		typeName := c.Query("type", "loan")
		product, ok := products[typeName]
		if !ok {
			return resource.NotFoundError(typeName)
		}

		records, err := product.Col.Find(c.Context(), store.Filter{"agent": actor.ID}, store.FindOptions{})
		if err != nil {
			return fmt.Errorf("agent stats %s: %w", typeName, err)
		}

		tally := agentTally{Agent: actor.ID}
		for _, rec := range records {
			tally.Total++
			switch workflow.CurrentState(rec) {
			case workflow.StateAccepted:
				tally.Accepted++
			case workflow.StateMissingDocuments:
				tally.MissingDocuments++
			case workflow.StatePending:
				tally.Pending++
			}
		}
		if tally.Total > 0 {
			tally.Percentage = float64(tally.Accepted) / float64(tally.Total) * 100
		}

		return c.JSON(fiber.Map{
			"message": "stats fetched successfully",
			"data":    tally,
		})
	}
}

type agentTally struct {
	Agent            string  `json:"agent"`
	Name             string  `json:"name"`
	Total            int     `json:"total"`
	Pending          int     `json:"pending"`
	MissingDocuments int     `json:"missingDocuments"`
	Accepted         int     `json:"accepted"`
	Percentage       float64 `json:"percentage"`
}

func (h *Handler) fillAgentName(ctx context.Context, tally *agentTally) error {
	user, err := h.users.FindByID(ctx, tally.Agent)
	if err != nil {
		// Deleted agents still appear in the tally, just unnamed.
		return nil
	}
	tally.Name, _ = user["name"].(string)
	return nil
}

func sortedAgentIDs(m map[string]*agentTally) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// withProduct resolves the :type parameter to a product engine and delegates
// the request to the given engine method.
func (h *Handler) withProduct(fn func(*resource.Engine, *fiber.Ctx) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		product, ok := h.products[c.Params("type")]
		if !ok {
			return resource.NotFoundError(c.Params("type"))
		}
		return fn(product.Engine, c)
	}
}
