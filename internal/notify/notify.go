// Package notify is the durable record of workflow transitions. Entries are
// append-only: the core never updates or deletes them.
package notify

import (
	"context"
	"log"

	"finserv-backend/internal/resource"
	"finserv-backend/internal/store"
)

// Entry is one notification. AgentName and User hold user ids and are
// expanded on read. The attachement spelling is part of the wire format.
type Entry struct {
	AgentName   string `json:"agentName"`
	User        string `json:"user"`
	Attachement string `json:"attachement,omitempty"`
	Message     string `json:"message"`
	Status      string `json:"status,omitempty"`
	Remark      string `json:"remark,omitempty"`
}

// Sink accepts notification entries. Implementations are fire-and-forget from
// the workflow engine's perspective.
type Sink interface {
	Append(ctx context.Context, entry Entry) error
}

// CollectionSink persists entries to a notifications collection.
type CollectionSink struct {
	Col store.Collection
}

func (s *CollectionSink) Append(ctx context.Context, entry Entry) error {
	_, err := s.Col.Insert(ctx, store.Record{
		"agentName":   entry.AgentName,
		"user":        entry.User,
		"attachement": entry.Attachement,
		"message":     entry.Message,
		"status":      entry.Status,
		"remark":      entry.Remark,
	})
	return err
}

// BestEffort wraps a sink append so a failing sink never fails the caller.
func BestEffort(ctx context.Context, sink Sink, entry Entry) {
	if sink == nil {
		return
	}
	if err := sink.Append(ctx, entry); err != nil {
		log.Printf("WARN: notification append failed: %v", err)
	}
}

// FeedFilter scopes the notification list to the requesting actor: agents see
// entries addressed to them as the acting agent, everyone else sees entries
// addressed to them as the user.
func FeedFilter() resource.PreFilterFunc {
	return func(ctx context.Context, actor *resource.Actor, filter store.Filter) error {
		if actor == nil {
			return resource.UnauthenticatedError("Unauthorized: user id required")
		}
		if actor.Role == resource.RoleAgent {
			filter["agentName"] = actor.ID
		} else {
			filter["user"] = actor.ID
		}
		return nil
	}
}
