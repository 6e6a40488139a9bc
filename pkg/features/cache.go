package features

import (
	"context"
	"fmt"
	"time"

	"github.com/neurocast-ai/platform/pkg/common/kafka"
	"github.com/neurocast-ai/platform/pkg/common/logger"
	"github.com/neurocast-ai/platform/pkg/common/models"
	"github.com/neurocast-ai/platform/pkg/observability/metrics"
	"golang.org/x/sync/singleflight"
)

// Publisher is the slice of the event producer the cache needs.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

// Cache fronts the extraction pipeline with a committed-record store. A miss
// triggers at most one extraction per (patient_id, visit_date) key; concurrent
// callers for the same key join the in-flight extraction instead of starting
// another. A caller that gives up waiting does not stop the extraction: the
// work finishes and commits for the next reader.
type Cache struct {
	store     Store
	extractor Extractor
	events    Publisher
	inflight  singleflight.Group
}

func NewCache(store Store, extractor Extractor, events Publisher) *Cache {
	return &Cache{store: store, extractor: extractor, events: events}
}

func cacheKey(patientID string, visitDate time.Time) string {
	return patientID + "|" + dateKey(visitDate)
}

// GetOrExtract returns the committed feature record for the key, running the
// extraction pipeline on a miss. Only fully committed records are ever
// returned; an in-progress extraction is invisible to other keys' readers.
func (c *Cache) GetOrExtract(ctx context.Context, patientID string, visitDate time.Time) (models.FeatureRecord, error) {
	record, found, err := c.store.Get(ctx, patientID, visitDate)
	if err != nil {
		return models.FeatureRecord{}, err
	}
	if found {
		metrics.CacheHit()
		return record, nil
	}
	metrics.CacheMiss()

	key := cacheKey(patientID, visitDate)
	ch := c.inflight.DoChan(key, func() (interface{}, error) {
		// Detached from the initiating request: extraction keeps running and
		// commits even if every waiter has gone away.
		bg := context.WithoutCancel(ctx)
		return c.extract(bg, patientID, visitDate)
	})

	select {
	case <-ctx.Done():
		return models.FeatureRecord{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return models.FeatureRecord{}, res.Err
		}
		return res.Val.(models.FeatureRecord), nil
	}
}

func (c *Cache) extract(ctx context.Context, patientID string, visitDate time.Time) (models.FeatureRecord, error) {
	// A racing caller may have committed between our miss and the flight
	// starting; the store is the source of truth.
	record, found, err := c.store.Get(ctx, patientID, visitDate)
	if err == nil && found {
		return record, nil
	}

	start := time.Now()
	logger.Log.WithFields(map[string]interface{}{
		"patient_id": patientID,
		"visit_date": dateKey(visitDate),
	}).Info("Feature cache miss, running extraction")

	record, err = c.extractor.Extract(ctx, patientID, visitDate)
	if err != nil {
		metrics.ExtractionFailed()
		return models.FeatureRecord{}, fmt.Errorf("extraction failed for %s/%s: %w", patientID, dateKey(visitDate), err)
	}

	if err := c.store.Put(ctx, record); err != nil {
		return models.FeatureRecord{}, fmt.Errorf("failed to commit feature record: %w", err)
	}
	metrics.ExtractionCompleted()

	if c.events != nil {
		if err := c.events.PublishEvent(ctx, "extraction.completed", "feature-cache", map[string]interface{}{
			"patient_id":          patientID,
			"visit_date":          dateKey(visitDate),
			"structural_observed": record.StructuralObserved,
			"metabolic_observed":  record.MetabolicObserved,
			"duration_seconds":    time.Since(start).Seconds(),
		}); err != nil {
			logger.Log.WithError(err).Warn("failed to publish extraction event")
		}
	}

	return record, nil
}

// Peek returns the committed record if one exists, without triggering
// extraction. The forecasting path reads through Peek only: an in-progress or
// failed extraction is absent data, never zero.
func (c *Cache) Peek(ctx context.Context, patientID string, visitDate time.Time) (models.FeatureRecord, bool, error) {
	return c.store.Get(ctx, patientID, visitDate)
}

// EnsureAsync kicks off extraction for the key without waiting on it, so a
// visit that was absent for this forecast is ready for the next one.
// Coalescing in GetOrExtract still guarantees one flight per key.
func (c *Cache) EnsureAsync(patientID string, visitDate time.Time) {
	go func() {
		if _, err := c.GetOrExtract(context.Background(), patientID, visitDate); err != nil {
			logger.Log.WithError(err).WithFields(map[string]interface{}{
				"patient_id": patientID,
				"visit_date": dateKey(visitDate),
			}).Warn("background extraction failed")
		}
	}()
}

// Invalidate handles the "new scan supersedes this visit" signal: the
// committed record is dropped from both tiers and the next read re-extracts.
func (c *Cache) Invalidate(ctx context.Context, patientID string, visitDate time.Time) error {
	if err := c.store.Delete(ctx, patientID, visitDate); err != nil {
		return err
	}
	c.inflight.Forget(cacheKey(patientID, visitDate))
	logger.Log.WithFields(map[string]interface{}{
		"patient_id": patientID,
		"visit_date": dateKey(visitDate),
	}).Info("Feature record invalidated")
	return nil
}

var _ Publisher = (*kafka.Producer)(nil)
