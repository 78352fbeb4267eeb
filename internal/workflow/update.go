package workflow

import (
	"context"
	"fmt"
	"strings"

	"finserv-backend/internal/notify"
	"finserv-backend/internal/resource"
	"finserv-backend/internal/store"
)

// protectedFields are stripped from the payload before the remaining keys are
// merged into the record: they are either store-maintained or owned by the
// workflow itself.
var protectedFields = map[string]bool{
	"id": true, "rev": true, "createdAt": true, "updatedAt": true,
	"user": true, "agent": true, "status": true,
	"documents": true, "missingDocuments": true, "remark": true, "state": true,
}

// Updater applies the status-workflow discipline to record updates. It runs
// as the resource engine's pre-update hook and always takes over persistence:
// the nested-array mutation and permission checks here need full
// read-modify-write control that the engine's shallow merge cannot provide.
type Updater struct {
	// Name is the entity name used in notification messages, e.g. "Loan".
	Name   string
	Col    store.Collection
	Sink   notify.Sink
	States []State
}

// PreUpdate implements resource.PreUpdateHook.
//
// The write is guarded by the record revision read at load time; a concurrent
// writer surfaces as a CONFLICT rather than silently losing remarks.
func (u *Updater) PreUpdate(ctx context.Context, actor *resource.Actor, filter store.Filter, payload store.Record) (bool, store.Record, error) {
	matches, err := u.Col.Find(ctx, filter, store.FindOptions{Limit: 1})
	if err != nil {
		return false, nil, fmt.Errorf("load %s: %w", u.Name, err)
	}
	if len(matches) == 0 {
		return false, nil, store.ErrNotFound
	}
	rec := matches[0]

	last, ok := CurrentStatus(rec)
	if !ok {
		// Records always carry at least one entry; repair rather than crash.
		last = newStatusEntry(u.Name + " created")
		rec["status"] = []any{last}
	}

	// Customers may only act while documents are being collected.
	if actor.IsCustomer() {
		state, _ := last["state"].(string)
		if state != string(StateMissingDocuments) {
			return false, nil, resource.ForbiddenError("Cannot update. Status must be 'missingDocuments'.")
		}
	}

	if docs, ok := payload["documents"].(map[string]any); ok {
		existing, _ := rec["documents"].(map[string]any)
		rec["documents"] = mergeDocuments(existing, docs)
	}

	missingDocs, missingSet := payload["missingDocuments"].([]any)
	if missingSet {
		last["missingDocuments"] = missingDocs
	}

	remark, _ := payload["remark"].(string)
	if remark != "" {
		appendRemark(last, remark)
	}

	oldState, _ := last["state"].(string)
	newState := oldState
	if requested, ok := payload["state"].(string); ok && requested != "" && !actor.IsCustomer() {
		if !validState(u.States, State(requested)) {
			return false, nil, resource.ValidationError([]resource.ErrorDetail{{
				Field:   "state",
				Rule:    "enum",
				Message: fmt.Sprintf("invalid state: %s", requested),
			}})
		}
		if requested != oldState {
			last["state"] = requested
			last["updatedAt"] = nowString()
			newState = requested
		}
	}

	// Whatever remains in the payload is ordinary field data.
	for key, value := range payload {
		if !protectedFields[key] {
			rec[key] = value
		}
	}

	// Claim on touch: the agent who performs an update becomes the record's
	// agent of record.
	if actor.IsAgent() {
		rec["agent"] = actor.ID
	}

	id, _ := rec["id"].(string)
	rev, _ := rec["rev"].(int64)
	updated, err := u.Col.Replace(ctx, id, rec, rev)
	if err != nil {
		return false, nil, err
	}

	u.emitNotifications(ctx, actor, updated, oldState, newState, remark, missingSet, missingDocs)
	return true, updated, nil
}

// emitNotifications fires after persistence; a failing sink never rolls back
// the update. A single call may emit both a state-change entry and a
// missing-documents entry.
func (u *Updater) emitNotifications(ctx context.Context, actor *resource.Actor, rec store.Record, oldState, newState, remark string, missingSet bool, missingDocs []any) {
	userID, _ := rec["user"].(string)
	agentID := ""
	if actor != nil {
		agentID = actor.ID
	}

	if newState != oldState {
		notify.BestEffort(ctx, u.Sink, notify.Entry{
			AgentName: agentID,
			User:      userID,
			Message:   fmt.Sprintf("%s status changed from %s to %s", u.Name, oldState, newState),
			Status:    newState,
			Remark:    remark,
		})
	}

	if missingSet && len(missingDocs) > 0 {
		names := make([]string, 0, len(missingDocs))
		for _, d := range missingDocs {
			if doc, ok := d.(map[string]any); ok {
				if name, ok := doc["name"].(string); ok && name != "" {
					names = append(names, name)
				}
			}
		}
		notify.BestEffort(ctx, u.Sink, notify.Entry{
			AgentName: agentID,
			User:      userID,
			Message:   "Missing documents requested: " + strings.Join(names, ", "),
			Status:    string(StateMissingDocuments),
			Remark:    remark,
		})
	}
}
