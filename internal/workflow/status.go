package workflow

import (
	"time"

	"finserv-backend/internal/store"
)

// CurrentStatus returns the last entry of a record's status sequence, the one
// carrying the record's current state. The sequence is never empty for a
// record created through this package; ok is false when a record predates
// that guarantee.
func CurrentStatus(rec store.Record) (map[string]any, bool) {
	entries, _ := rec["status"].([]any)
	if len(entries) == 0 {
		return nil, false
	}
	last, ok := entries[len(entries)-1].(map[string]any)
	return last, ok
}

// CurrentState returns the record's current state, defaulting to pending for
// records without a status sequence.
func CurrentState(rec store.Record) State {
	last, ok := CurrentStatus(rec)
	if !ok {
		return StatePending
	}
	s, _ := last["state"].(string)
	if s == "" {
		return StatePending
	}
	return State(s)
}

// newStatusEntry seeds the single entry every record starts with.
func newStatusEntry(note string) map[string]any {
	return map[string]any{
		"state": string(StatePending),
		"remarks": []any{
			map[string]any{"note": note, "createdAt": nowString()},
		},
		"missingDocuments": []any{},
		"updatedAt":        nowString(),
	}
}

func appendRemark(entry map[string]any, note string) {
	remarks, _ := entry["remarks"].([]any)
	entry["remarks"] = append(remarks, map[string]any{
		"note":      note,
		"createdAt": nowString(),
	})
}

// nowString keeps document-embedded timestamps as RFC3339 strings so records
// look the same coming back from any store implementation.
func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
