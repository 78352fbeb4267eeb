package resource

import (
	"context"
	"errors"

	"finserv-backend/internal/store"
)

// populateRecords expands declared references in place: the id stored under
// pop.Field is replaced by the referenced record, projected through
// pop.Select. Dangling references become null rather than failing the read.
func populateRecords(ctx context.Context, resolver store.Resolver, records []store.Record, pops []store.Populate) error {
	if resolver == nil || len(pops) == 0 || len(records) == 0 {
		return nil
	}

	for _, pop := range pops {
		target := resolver.Collection(pop.Collection)
		cache := make(map[string]store.Record)

		for _, rec := range records {
			id, ok := rec[pop.Field].(string)
			if !ok || id == "" {
				continue
			}

			ref, cached := cache[id]
			if !cached {
				fetched, err := target.FindByID(ctx, id)
				if err != nil {
					if !errors.Is(err, store.ErrNotFound) {
						return err
					}
					fetched = nil
				}
				if fetched != nil {
					fetched = store.ApplySelect(fetched, pop.Select)
				}
				cache[id] = fetched
				ref = fetched
			}

			if ref == nil {
				rec[pop.Field] = nil
			} else {
				rec[pop.Field] = ref
			}
		}
	}
	return nil
}
