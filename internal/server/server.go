// Package server wires the HTTP surface: route groups per role, engine
// configs per entity, and the central error handler. Construction is separate
// from main so the full router can be exercised in tests against the
// in-memory store.
package server

import (
	"context"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"finserv-backend/internal/admin"
	"finserv-backend/internal/auth"
	"finserv-backend/internal/config"
	"finserv-backend/internal/notify"
	"finserv-backend/internal/resource"
	"finserv-backend/internal/storage"
	"finserv-backend/internal/store"
	"finserv-backend/internal/workflow"
)

// Collections every deployment needs. The store bootstraps these at startup.
var Collections = []string{
	"users", "refresh_tokens",
	"loans", "credits", "insurances",
	"notifications", "uploads",
	"banners", "categories", "cibils", "insurance_renewals",
}

// New builds the Fiber application with every route group mounted.
func New(cfg config.Config, db store.Resolver) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	users := db.Collection("users")
	sink := &notify.CollectionSink{Col: db.Collection("notifications")}
	uploads := storage.NewHandler(db.Collection("uploads"), storage.NewLocalStorage(cfg.Storage.Path))
	page := resource.PageConfig{Limit: cfg.Pagination.Limit, MaxLimit: cfg.Pagination.MaxLimit}

	authHandler := auth.NewHandler(users, db.Collection("refresh_tokens"), cfg.JWTSecret)
	auth.RegisterRoutes(app.Group("/api/auth"), authHandler)

	authMW := auth.Middleware(users, cfg.JWTSecret)

	products := []struct {
		key        string
		label      string
		collection string
		states     []workflow.State
		query      []string // customer list filters
		agentQuery []string
		typeField  string // reference into categories, when the product has one
	}{
		{
			key: "loan", label: "loan", collection: "loans", states: workflow.LoanStates,
			query:      []string{"loanType"},
			agentQuery: []string{"user", "status.state", "loanType"},
			typeField:  "loanType",
		},
		{
			key: "credit", label: "credit card", collection: "credits", states: workflow.LoanStates,
			query:      []string{"status.state"},
			agentQuery: []string{"user", "status.state", "name"},
		},
		{
			key: "insurance", label: "insurance", collection: "insurances", states: workflow.InsuranceStates,
			agentQuery: []string{"user", "name", "status.state"},
		},
	}

	// Customer surface: owner-scoped applications plus read-only content.
	customer := app.Group("/api/customer", authMW, auth.RequireRole(resource.RoleCustomer))
	for _, p := range products {
		col := db.Collection(p.collection)
		populate := []store.Populate{
			{Field: "agent", Collection: "users", Select: "name mobile"},
		}
		if p.typeField != "" {
			populate = append(populate, store.Populate{Field: p.typeField, Collection: "categories", Select: "name"})
		}
		engine := resource.NewEngine(col, db, resource.Config{
			Name:         p.label,
			Access:       resource.AccessOwner,
			Query:        p.query,
			Populate:     populate,
			PopulateByID: populate,
			Page:         page,
			Rules:        productRules(p.key),
			Hooks: resource.Hooks{
				PreCreate: &workflow.Creator{
					Name:   p.label,
					Assign: &workflow.RandomAssignment{Users: users},
				},
				PreUpdate: &workflow.Updater{Name: p.label, Col: col, Sink: sink, States: p.states},
			},
		})
		engine.Mount(customer, "/"+p.collection, resource.Verbs{List: true, Get: true, Create: true, Update: true})
	}

	notificationFeed := func() *resource.Engine {
		return resource.NewEngine(db.Collection("notifications"), db, resource.Config{
			Name:   "notification",
			Access: resource.AccessAdmin,
			Populate: []store.Populate{
				{Field: "agentName", Collection: "users", Select: "name"},
				{Field: "user", Collection: "users", Select: "name mobile"},
			},
			Page:  page,
			Hooks: resource.Hooks{PreFilter: notify.FeedFilter()},
		})
	}
	notificationFeed().Mount(customer, "/notifications", resource.Verbs{List: true})

	banners := resource.NewEngine(db.Collection("banners"), db, resource.Config{
		Name: "banner", Access: resource.AccessAdmin, Page: page,
	})
	categories := resource.NewEngine(db.Collection("categories"), db, resource.Config{
		Name: "category", Access: resource.AccessAdmin, Query: []string{"parent"}, Page: page,
	})
	banners.Mount(customer, "/banners", resource.ReadOnly)
	categories.Mount(customer, "/categories", resource.ReadOnly)

	cibils := resource.NewEngine(db.Collection("cibils"), db, resource.Config{
		Name:   "cibil report",
		Access: resource.AccessOwner,
		Page:   page,
		Rules: []*resource.Rule{
			{Field: "score", Operator: "required", Message: "CIBIL score is required"},
			{Field: "score", Operator: "min", Value: 300, Message: "CIBIL score must be at least 300"},
			{Field: "score", Operator: "max", Value: 900, Message: "CIBIL score cannot exceed 900"},
		},
	})
	cibils.Mount(customer, "/cibils", resource.Verbs{List: true, Get: true, Create: true})

	renewals := resource.NewEngine(db.Collection("insurance_renewals"), db, resource.Config{
		Name:   "insurance renewal",
		Access: resource.AccessOwner,
		Page:   page,
		Populate: []store.Populate{
			{Field: "insurance", Collection: "insurances", Select: "policyType coverage"},
		},
	})
	renewals.Mount(customer, "/insurance-renewals", resource.Verbs{List: true, Get: true, Create: true, Update: true})
	uploads.RegisterRoutes(customer, true)

	adminProducts := map[string]admin.Product{}
	for _, p := range products {
		col := db.Collection(p.collection)
		adminProducts[p.key] = admin.Product{
			Label: p.label,
			Col:   col,
			Engine: resource.NewEngine(col, db, resource.Config{
				Name:   p.label,
				Access: resource.AccessAdmin,
				Query:  []string{"agent", "user"},
				Populate: []store.Populate{
					{Field: "user", Collection: "users", Select: "name mobile email"},
					{Field: "agent", Collection: "users", Select: "name"},
				},
				PopulateByID: []store.Populate{
					{Field: "user", Collection: "users", Select: "name mobile email"},
					{Field: "agent", Collection: "users", Select: "name"},
				},
				Page: page,
				Hooks: resource.Hooks{
					PreUpdate: &workflow.Updater{Name: p.label, Col: col, Sink: sink, States: p.states},
				},
			}),
		}
	}

	// Agent surface: lists cover the acting agent's book; single-record reads
	// and updates are unscoped so an agent can claim untouched records.
	agentScope := resource.PreFilterFunc(func(ctx context.Context, actor *resource.Actor, filter store.Filter) error {
		if actor == nil {
			return resource.UnauthenticatedError("Unauthorized: user id required")
		}
		filter["agent"] = actor.ID
		return nil
	})

	agent := app.Group("/api/agent", authMW, auth.RequireRole(resource.RoleAgent))
	for _, p := range products {
		col := db.Collection(p.collection)
		populate := []store.Populate{
			{Field: "user", Collection: "users", Select: "name mobile email"},
		}
		if p.typeField != "" {
			populate = append(populate, store.Populate{Field: p.typeField, Collection: "categories", Select: "name"})
		}
		engine := resource.NewEngine(col, db, resource.Config{
			Name:         p.label,
			Access:       resource.AccessAdmin,
			Query:        p.agentQuery,
			Populate:     populate,
			PopulateByID: populate,
			Page:         page,
			Hooks: resource.Hooks{
				PreFilter: agentScope,
				PreUpdate: &workflow.Updater{Name: p.label, Col: col, Sink: sink, States: p.states},
			},
		})
		engine.Mount(agent, "/"+p.collection, resource.Verbs{List: true, Get: true, Update: true})
	}
	notificationFeed().Mount(agent, "/notifications", resource.Verbs{List: true})
	agent.Get("/stats", admin.AgentStats(adminProducts))
	banners.Mount(agent, "/banners", resource.ReadOnly)
	categories.Mount(agent, "/categories", resource.ReadOnly)
	uploads.RegisterRoutes(agent, false)

	// Admin surface.
	adminGroup := app.Group("/api/admin", authMW, auth.RequireRole(resource.RoleAdmin))
	admin.NewHandler(users, adminProducts).RegisterRoutes(adminGroup)

	// Admin feed plus manual sends, e.g. announcements.
	adminNotifications := resource.NewEngine(db.Collection("notifications"), db, resource.Config{
		Name:   "notification",
		Access: resource.AccessAdmin,
		Query:  []string{"user", "agentName"},
		Populate: []store.Populate{
			{Field: "agentName", Collection: "users", Select: "name"},
			{Field: "user", Collection: "users", Select: "name mobile"},
		},
		Page: page,
	})
	adminNotifications.Mount(adminGroup, "/notifications", resource.Verbs{List: true, Create: true})

	banners.Mount(adminGroup, "/banners", resource.FullCRUD)
	categories.Mount(adminGroup, "/categories", resource.FullCRUD)

	adminCibils := resource.NewEngine(db.Collection("cibils"), db, resource.Config{
		Name: "cibil report", Access: resource.AccessAdmin, Query: []string{"user"}, Page: page,
	})
	adminCibils.Mount(adminGroup, "/cibils", resource.FullCRUD)

	adminRenewals := resource.NewEngine(db.Collection("insurance_renewals"), db, resource.Config{
		Name: "insurance renewal", Access: resource.AccessAdmin, Query: []string{"user", "insurance"}, Page: page,
	})
	adminRenewals.Mount(adminGroup, "/insurance-renewals", resource.FullCRUD)
	uploads.RegisterRoutes(adminGroup, false)

	return app
}

// productRules returns the customer-facing validations for one product type.
func productRules(key string) []*resource.Rule {
	switch key {
	case "loan":
		return []*resource.Rule{
			{Field: "amount", Operator: "required", Message: "Loan amount is required"},
			{Field: "amount", Operator: "min", Value: 1000, Message: "Loan amount must be at least 1000"},
			{Field: "tenure", Operator: "min", Value: 1, Message: "Tenure must be at least 1 month"},
			{Field: "tenure", Operator: "max", Value: 360, Message: "Tenure cannot exceed 360 months"},
			{
				Expression: `record.amount != nil && record.amount > 10000000`,
				Field:      "amount",
				Message:    "Loan amount cannot exceed 1 crore",
			},
		}
	case "credit":
		return []*resource.Rule{
			{Field: "cardType", Operator: "required", Message: "Card type is required"},
			{Field: "income", Operator: "min", Value: 0, Message: "Income cannot be negative"},
		}
	case "insurance":
		return []*resource.Rule{
			{Field: "policyType", Operator: "required", Message: "Policy type is required"},
			{Field: "coverage", Operator: "min", Value: 0, Message: "Coverage cannot be negative"},
		}
	}
	return nil
}

func errorHandler(c *fiber.Ctx, err error) error {
	var appErr *resource.AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(resource.ErrorResponse{
			Message: appErr.Message,
			Error:   appErr,
		})
	}

	code := fiber.StatusInternalServerError
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	log.Printf("ERROR: %v", err)
	return c.Status(code).JSON(resource.ErrorResponse{
		Message: "Internal server error",
		Error: &resource.AppError{
			Code:    "INTERNAL",
			Status:  code,
			Message: "Internal server error",
		},
	})
}
