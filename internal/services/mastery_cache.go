package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"prepapp/internal/models"
	"prepapp/internal/observability"

	"github.com/redis/go-redis/v9"
)

// CachedMasteryReader decorates a MasteryReader with a redis read-through
// cache for the per-student grading snapshot (performance summary, subject
// mastery, topic mastery). Catalog and recency lookups always go to the
// underlying reader: the 15-day recency exclusion must never see stale data.
type CachedMasteryReader struct {
	MasteryReader

	client *redis.Client
	ttl    time.Duration
	logger *observability.Logger
}

// NewCachedMasteryReader creates a read-through cache around the given reader
func NewCachedMasteryReader(inner MasteryReader, client *redis.Client, ttl time.Duration, logger *observability.Logger) *CachedMasteryReader {
	return &CachedMasteryReader{
		MasteryReader: inner,
		client:        client,
		ttl:           ttl,
		logger:        logger,
	}
}

func summaryKey(studentID int) string {
	return fmt.Sprintf("prep:summary:%d", studentID)
}

func subjectMasteryKey(studentID int) string {
	return fmt.Sprintf("prep:subject_mastery:%d", studentID)
}

func topicMasteryKey(studentID int) string {
	return fmt.Sprintf("prep:topic_mastery:%d", studentID)
}

// GetPerformanceSummary returns the cached summary when present, loading and
// caching it otherwise. A nil summary (unscored student) is not cached so a
// first score shows up immediately.
func (c *CachedMasteryReader) GetPerformanceSummary(ctx context.Context, studentID int) (*models.PerformanceSummary, error) {
	key := summaryKey(studentID)
	if data, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var summary models.PerformanceSummary
		if err := json.Unmarshal(data, &summary); err == nil {
			return &summary, nil
		}
		// Corrupt entry, fall through to the reader
		c.client.Del(ctx, key)
	}

	summary, err := c.MasteryReader.GetPerformanceSummary(ctx, studentID)
	if err != nil || summary == nil {
		return summary, err
	}

	if data, err := json.Marshal(summary); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn(ctx, "Failed to cache performance summary", map[string]interface{}{
				"student_id": studentID,
				"error":      err.Error(),
			})
		}
	}

	return summary, nil
}

// ListSubjectMastery returns the cached subject mastery rows when present
func (c *CachedMasteryReader) ListSubjectMastery(ctx context.Context, studentID int) ([]models.SubjectMastery, error) {
	key := subjectMasteryKey(studentID)
	if data, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var masteries []models.SubjectMastery
		if err := json.Unmarshal(data, &masteries); err == nil {
			return masteries, nil
		}
		c.client.Del(ctx, key)
	}

	masteries, err := c.MasteryReader.ListSubjectMastery(ctx, studentID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(masteries); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn(ctx, "Failed to cache subject mastery", map[string]interface{}{
				"student_id": studentID,
				"error":      err.Error(),
			})
		}
	}

	return masteries, nil
}

// ListTopicMastery returns the cached topic mastery rows when present
func (c *CachedMasteryReader) ListTopicMastery(ctx context.Context, studentID int) ([]models.TopicMastery, error) {
	key := topicMasteryKey(studentID)
	if data, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var masteries []models.TopicMastery
		if err := json.Unmarshal(data, &masteries); err == nil {
			return masteries, nil
		}
		c.client.Del(ctx, key)
	}

	masteries, err := c.MasteryReader.ListTopicMastery(ctx, studentID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(masteries); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn(ctx, "Failed to cache topic mastery", map[string]interface{}{
				"student_id": studentID,
				"error":      err.Error(),
			})
		}
	}

	return masteries, nil
}

// Invalidate drops all cached snapshot entries for a student
func (c *CachedMasteryReader) Invalidate(ctx context.Context, studentID int) error {
	return c.client.Del(ctx, summaryKey(studentID), subjectMasteryKey(studentID), topicMasteryKey(studentID)).Err()
}
