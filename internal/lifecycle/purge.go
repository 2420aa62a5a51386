package lifecycle

import (
	"context"

	"github.com/menubuilder/offline-gateway/internal/cachestore"
	"github.com/menubuilder/offline-gateway/internal/errors"
)

// StalePartitions lists partitions that do not belong to current.
func StalePartitions(ctx context.Context, reg cachestore.Registry, current cachestore.Names) ([]string, error) {
	names, err := reg.Names(ctx)
	if err != nil {
		return nil, err
	}
	var stale []string
	for _, name := range names {
		if !current.Current(name) {
			stale = append(stale, name)
		}
	}
	return stale, nil
}

// PurgeStale deletes every partition that is not one of the current names and
// returns the deleted names. Deletion continues past individual failures.
func PurgeStale(ctx context.Context, reg cachestore.Registry, current cachestore.Names) ([]string, error) {
	stale, err := StalePartitions(ctx, reg, current)
	if err != nil {
		return nil, err
	}

	var purged []string
	var errs []error
	for _, name := range stale {
		deleted, err := reg.Delete(ctx, name)
		if err != nil {
			errs = append(errs, errors.New(err).
				Component("lifecycle").
				Category(errors.CategoryCache).
				Context("partition", name).
				Build())
			continue
		}
		if deleted {
			purged = append(purged, name)
		}
	}
	return purged, errors.Join(errs...)
}
