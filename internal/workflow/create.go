package workflow

import (
	"context"
	"errors"
	"fmt"

	"finserv-backend/internal/resource"
	"finserv-backend/internal/store"
)

// Creator seeds a new financial record: the status sequence starts with a
// single pending entry and an agent is assigned by the configured policy.
// It runs as the resource engine's pre-create hook, after the engine has
// force-set the owning user.
type Creator struct {
	// Name is the entity name used in the seed remark, e.g. "Loan".
	Name   string
	Assign AssignmentPolicy
}

func (cr *Creator) PreCreate(ctx context.Context, actor *resource.Actor, payload store.Record) error {
	if actor == nil {
		return resource.UnauthenticatedError("User not authenticated.")
	}

	agentID, err := cr.Assign.Pick(ctx)
	if err != nil {
		if errors.Is(err, ErrNoAgents) {
			return resource.UnavailableError("No agents available right now.")
		}
		return fmt.Errorf("assign agent: %w", err)
	}

	// Clients cannot choose their agent or seed their own history.
	payload["agent"] = agentID
	payload["status"] = []any{newStatusEntry(cr.Name + " created")}
	return nil
}
