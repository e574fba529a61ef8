package storage

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/mastermobile/callexport/internal/config"
	"github.com/mastermobile/callexport/internal/support/logger"
)

// Cleaner removes stored artifacts older than their category's retention.
// It runs against the whole export tree, not a single period.
type Cleaner struct {
	backend   Backend
	retention config.RetentionConfig
}

// NewCleaner creates a retention cleaner over the given backend.
func NewCleaner(backend Backend, retention config.RetentionConfig) *Cleaner {
	return &Cleaner{backend: backend, retention: retention}
}

// retentionDays maps a category to its configured retention in days.
// Zero or negative retention disables cleanup for that category.
func (c *Cleaner) retentionDays(category Category) int {
	switch category {
	case CategoryRaw:
		return c.retention.RawDays
	case CategoryTranscripts, CategorySummary:
		return c.retention.TranscriptsDays
	case CategoryRegistry:
		return c.retention.RegistryDays
	case CategoryReports:
		return c.retention.ReportsDays
	case CategoryLogs:
		return c.retention.LogsDays
	default:
		return 0
	}
}

// categoryOf extracts the category segment from a full storage key of the
// form "exports/<period>/<category>/...".
func categoryOf(key string) (Category, bool) {
	parts := strings.SplitN(key, "/", 4)
	if len(parts) < 4 || parts[0] != "exports" {
		return "", false
	}
	return Category(parts[2]), true
}

// Run deletes every object whose category retention has elapsed relative to
// now. It returns the number of deleted objects; individual delete failures
// are collected and do not stop the sweep.
func (c *Cleaner) Run(ctx context.Context, now time.Time) (int, error) {
	deleted := 0
	var errs *multierror.Error

	err := c.backend.List(ctx, "exports/", func(obj ObjectInfo) error {
		category, ok := categoryOf(obj.Key)
		if !ok {
			return nil
		}
		days := c.retentionDays(category)
		if days <= 0 {
			return nil
		}
		cutoff := now.AddDate(0, 0, -days)
		if !obj.Updated.Before(cutoff) {
			return nil
		}

		if err := c.backend.Delete(ctx, obj.Key); err != nil {
			errs = multierror.Append(errs, err)
			return nil
		}
		deleted++
		return nil
	})
	if err != nil {
		errs = multierror.Append(errs, err)
	}

	if deleted > 0 {
		logger.Infof("Retention cleanup removed %d expired object(s).", deleted)
	}
	return deleted, errs.ErrorOrNil()
}
