package workflow

// mergeDocuments folds an incoming documents payload into the existing bag,
// key by key. When both sides hold a nested object the fields are merged one
// level deep, so resubmitting one sub-field preserves its siblings; anything
// else replaces the existing value outright. This is deliberately not a deep
// recursive merge.
func mergeDocuments(existing, incoming map[string]any) map[string]any {
	if existing == nil {
		existing = map[string]any{}
	}
	for key, value := range incoming {
		incomingObj, incomingIsObj := value.(map[string]any)
		existingObj, existingIsObj := existing[key].(map[string]any)
		if incomingIsObj && existingIsObj {
			merged := make(map[string]any, len(existingObj)+len(incomingObj))
			for k, v := range existingObj {
				merged[k] = v
			}
			for k, v := range incomingObj {
				merged[k] = v
			}
			existing[key] = merged
			continue
		}
		existing[key] = value
	}
	return existing
}
