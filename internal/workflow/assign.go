package workflow

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"finserv-backend/internal/store"
)

var ErrNoAgents = errors.New("no agents available")

// AssignmentPolicy picks the agent a newly created record is assigned to.
type AssignmentPolicy interface {
	Pick(ctx context.Context) (agentID string, err error)
}

// RandomAssignment picks uniformly at random from the currently active,
// unblocked agent pool. No load awareness, by design.
type RandomAssignment struct {
	Users store.Collection
}

func (p *RandomAssignment) Pick(ctx context.Context) (string, error) {
	agents, err := p.Users.Find(ctx, store.Filter{
		"role":      "agent",
		"isBlocked": false,
	}, store.FindOptions{})
	if err != nil {
		return "", fmt.Errorf("list agents: %w", err)
	}
	if len(agents) == 0 {
		return "", ErrNoAgents
	}

	picked := agents[rand.IntN(len(agents))]
	id, _ := picked["id"].(string)
	if id == "" {
		return "", fmt.Errorf("agent record missing id")
	}
	return id, nil
}
