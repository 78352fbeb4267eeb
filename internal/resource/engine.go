package resource

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"finserv-backend/internal/store"
)

// Engine is a generic CRUD controller over one collection, parameterized by a
// Config. One engine instance serves one entity type as seen by one role.
type Engine struct {
	col      store.Collection
	resolver store.Resolver
	cfg      Config
}

func NewEngine(col store.Collection, resolver store.Resolver, cfg Config) *Engine {
	if cfg.OwnerField == "" {
		cfg.OwnerField = "user"
	}
	if cfg.DefaultSort == "" {
		cfg.DefaultSort = "-createdAt"
	}
	if cfg.Page.Limit <= 0 {
		cfg.Page.Limit = 10
	}
	if cfg.Page.MaxLimit <= 0 {
		cfg.Page.MaxLimit = 100
	}
	return &Engine{col: col, resolver: resolver, cfg: cfg}
}

func (e *Engine) Config() Config {
	return e.cfg
}

// List handles GET /<resource>. The filter is built from owner scoping, the
// declared query allow-list and the free-text search parameter; the total
// count is computed independently of the page window.
func (e *Engine) List(c *fiber.Ctx) error {
	actor := ActorFromCtx(c)

	filter := store.Filter{}
	if e.cfg.Access == AccessOwner {
		if actor == nil {
			return UnauthenticatedError("Unauthorized: user id required")
		}
		filter[e.cfg.OwnerField] = actor.ID
	}

	// Only declared query fields are copied; everything else is ignored.
	for _, field := range e.cfg.Query {
		if v := c.Query(field); v != "" {
			filter[field] = v
		}
	}
	if search := c.Query("search"); search != "" {
		filter[store.SearchKey] = search
	}

	if hook := e.cfg.Hooks.PreFilter; hook != nil {
		if err := hook.PreFilter(c.Context(), actor, filter); err != nil {
			return err
		}
	}

	limit, skip := e.parsePagination(c)
	opts := store.FindOptions{
		Select: e.selectFor(c),
		Sort:   e.cfg.DefaultSort,
		Skip:   skip,
		Limit:  limit,
	}

	records, err := e.col.Find(c.Context(), filter, opts)
	if err != nil {
		return fmt.Errorf("list %s: %w", e.cfg.Name, err)
	}
	if err := populateRecords(c.Context(), e.resolver, records, e.cfg.Populate); err != nil {
		return fmt.Errorf("populate %s: %w", e.cfg.Name, err)
	}

	if hook := e.cfg.Hooks.PostRead; hook != nil {
		records, err = hook.PostRead(c.Context(), actor, records)
		if err != nil {
			return err
		}
	}

	count, err := e.col.Count(c.Context(), filter)
	if err != nil {
		return fmt.Errorf("count %s: %w", e.cfg.Name, err)
	}

	if records == nil {
		records = []store.Record{}
	}
	return c.JSON(fiber.Map{
		"message": fmt.Sprintf("%s fetched successfully", e.cfg.Name),
		"data":    records,
		"count":   count,
	})
}

// GetByID handles GET /<resource>/:id. No owner scoping is applied here;
// single-record read scoping is the caller's responsibility.
func (e *Engine) GetByID(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return NewAppError("VALIDATION_FAILED", 400, fmt.Sprintf("%s id is required", e.cfg.Name))
	}

	record, err := e.col.FindByID(c.Context(), id)
	if err != nil {
		return e.storeError(err, "get")
	}

	records := []store.Record{record}
	if err := populateRecords(c.Context(), e.resolver, records, e.cfg.PopulateByID); err != nil {
		return fmt.Errorf("populate %s: %w", e.cfg.Name, err)
	}
	record = store.ApplySelect(records[0], e.selectFor(c))

	return c.JSON(fiber.Map{
		"message": fmt.Sprintf("%s fetched successfully", e.cfg.Name),
		"data":    record,
	})
}

// Create handles POST /<resource>. For owner-scoped engines the owner field is
// force-set from the actor before the pre-create hook runs, so neither the
// payload nor a hook can spoof ownership.
func (e *Engine) Create(c *fiber.Ctx) error {
	actor := ActorFromCtx(c)

	var payload store.Record
	if err := c.BodyParser(&payload); err != nil {
		return NewAppError("VALIDATION_FAILED", 400, "Invalid JSON body")
	}

	if e.cfg.Access == AccessOwner {
		if actor == nil {
			return UnauthenticatedError("Unauthorized: user id required")
		}
		payload[e.cfg.OwnerField] = actor.ID
	}

	if hook := e.cfg.Hooks.PreCreate; hook != nil {
		if err := hook.PreCreate(c.Context(), actor, payload); err != nil {
			return err
		}
	}

	if details := EvaluateRules(e.cfg.Rules, payload, nil, "create"); len(details) > 0 {
		return ValidationError(details)
	}

	record, err := e.col.Insert(c.Context(), payload)
	if err != nil {
		return fmt.Errorf("create %s: %w", e.cfg.Name, err)
	}

	if hook := e.cfg.Hooks.PostCreate; hook != nil {
		record, err = hook.PostCreate(c.Context(), actor, record)
		if err != nil {
			return err
		}
	}

	return c.Status(201).JSON(fiber.Map{
		"message": fmt.Sprintf("%s created successfully", e.cfg.Name),
		"data":    record,
	})
}

// UpdateByID handles PUT /<resource>/:id. A scoped miss and true absence are
// deliberately indistinguishable. The pre-update hook may take over
// persistence entirely; the engine then skips its own shallow merge.
func (e *Engine) UpdateByID(c *fiber.Ctx) error {
	actor := ActorFromCtx(c)

	filter, err := e.idFilter(c, actor)
	if err != nil {
		return err
	}

	var payload store.Record
	if parseErr := c.BodyParser(&payload); parseErr != nil {
		return NewAppError("VALIDATION_FAILED", 400, "Invalid JSON body")
	}

	if hook := e.cfg.Hooks.PreUpdate; hook != nil {
		handled, record, hookErr := hook.PreUpdate(c.Context(), actor, filter, payload)
		if hookErr != nil {
			return e.storeError(hookErr, "update")
		}
		if handled {
			return c.JSON(fiber.Map{
				"message": fmt.Sprintf("%s updated successfully", e.cfg.Name),
				"data":    record,
			})
		}
	}

	if details := EvaluateRules(e.cfg.Rules, payload, nil, "update"); len(details) > 0 {
		return ValidationError(details)
	}

	record, err := e.col.FindOneAndUpdate(c.Context(), filter, payload)
	if err != nil {
		return e.storeError(err, "update")
	}

	return c.JSON(fiber.Map{
		"message": fmt.Sprintf("%s updated successfully", e.cfg.Name),
		"data":    record,
	})
}

// DeleteByID handles DELETE /<resource>/:id. Hard delete, same scoping rule
// as update.
func (e *Engine) DeleteByID(c *fiber.Ctx) error {
	actor := ActorFromCtx(c)

	filter, err := e.idFilter(c, actor)
	if err != nil {
		return err
	}

	record, err := e.col.FindOneAndDelete(c.Context(), filter)
	if err != nil {
		return e.storeError(err, "delete")
	}

	return c.JSON(fiber.Map{
		"message": fmt.Sprintf("%s deleted successfully", e.cfg.Name),
		"data":    record,
	})
}

// Verbs selects which routes Mount registers.
type Verbs struct {
	List   bool
	Get    bool
	Create bool
	Update bool
	Delete bool
}

// ReadOnly is the customer/agent view of shared content.
var ReadOnly = Verbs{List: true, Get: true}

// FullCRUD exposes every operation.
var FullCRUD = Verbs{List: true, Get: true, Create: true, Update: true, Delete: true}

// Mount registers the selected handlers under path on the given router group.
func (e *Engine) Mount(r fiber.Router, path string, v Verbs) {
	if v.List {
		r.Get(path, e.List)
	}
	if v.Get {
		r.Get(path+"/:id", e.GetByID)
	}
	if v.Create {
		r.Post(path, e.Create)
	}
	if v.Update {
		r.Put(path+"/:id", e.UpdateByID)
	}
	if v.Delete {
		r.Delete(path+"/:id", e.DeleteByID)
	}
}

func (e *Engine) idFilter(c *fiber.Ctx, actor *Actor) (store.Filter, error) {
	id := c.Params("id")
	if id == "" {
		return nil, NewAppError("VALIDATION_FAILED", 400, fmt.Sprintf("%s id is required", e.cfg.Name))
	}
	filter := store.Filter{"id": id}
	if e.cfg.Access == AccessOwner {
		if actor == nil {
			return nil, UnauthenticatedError("Unauthorized: user id required")
		}
		filter[e.cfg.OwnerField] = actor.ID
	}
	return filter, nil
}

func (e *Engine) selectFor(c *fiber.Ctx) string {
	if e.cfg.Select != "" {
		return e.cfg.Select
	}
	return c.Query("select")
}

func (e *Engine) parsePagination(c *fiber.Ctx) (limit, skip int) {
	limit = e.cfg.Page.Limit
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > e.cfg.Page.MaxLimit {
		limit = e.cfg.Page.MaxLimit
	}
	page := 1
	if v, err := strconv.Atoi(c.Query("page")); err == nil && v > 0 {
		page = v
	}
	return limit, (page - 1) * limit
}

// storeError maps store sentinels to the error taxonomy; anything else is
// surfaced to the central handler as an internal failure.
func (e *Engine) storeError(err error, op string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return NotFoundError(e.cfg.Name)
	case errors.Is(err, store.ErrConflict):
		return ConflictError(fmt.Sprintf("%s was modified concurrently, retry the update", e.cfg.Name))
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return fmt.Errorf("%s %s: %w", op, e.cfg.Name, err)
}
