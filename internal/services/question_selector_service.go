package services

import (
	"context"
	"sort"
	"time"

	"prepapp/internal/config"
	"prepapp/internal/models"
	"prepapp/internal/observability"
	contextutils "prepapp/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// QuestionSelectorInterface defines the four per-source selection methods.
// Each returns at most count questions with no duplicate ids within one call,
// and may return fewer when the topic pool or category filter cannot supply
// enough even after relaxation.
type QuestionSelectorInterface interface {
	SelectCurrentTopic(ctx context.Context, studentID int, subject *models.Subject, count int, plan *SessionConfig, excludeIDs []int) ([]models.Question, error)
	SelectWeakConcepts(ctx context.Context, studentID int, subject *models.Subject, count int, plan *SessionConfig, excludeIDs []int) ([]models.Question, error)
	SelectRevisionTopics(ctx context.Context, studentID int, subject *models.Subject, count int, plan *SessionConfig, excludeIDs []int) ([]models.Question, error)
	SelectPYQ(ctx context.Context, studentID int, subject *models.Subject, count int, plan *SessionConfig, excludeIDs []int) ([]models.Question, error)
	SelectBySource(ctx context.Context, source models.QuestionSource, studentID int, subject *models.Subject, count int, plan *SessionConfig, excludeIDs []int) ([]models.Question, error)
}

// QuestionSelector picks candidate questions for one subject and one source
type QuestionSelector struct {
	reader  MasteryReader
	cfg     *config.Config
	logger  *observability.Logger
	timeNow func() time.Time
}

// NewQuestionSelector creates a new QuestionSelector instance
func NewQuestionSelector(reader MasteryReader, cfg *config.Config, logger *observability.Logger) *QuestionSelector {
	return &QuestionSelector{
		reader:  reader,
		cfg:     cfg,
		logger:  logger,
		timeNow: time.Now,
	}
}

// SelectBySource dispatches to the selector method for the given source
func (s *QuestionSelector) SelectBySource(ctx context.Context, source models.QuestionSource, studentID int, subject *models.Subject, count int, plan *SessionConfig, excludeIDs []int) ([]models.Question, error) {
	switch source {
	case models.SourceCurrentTopic:
		return s.SelectCurrentTopic(ctx, studentID, subject, count, plan, excludeIDs)
	case models.SourceWeakConcepts:
		return s.SelectWeakConcepts(ctx, studentID, subject, count, plan, excludeIDs)
	case models.SourceRevisionTopics:
		return s.SelectRevisionTopics(ctx, studentID, subject, count, plan, excludeIDs)
	case models.SourcePYQ:
		return s.SelectPYQ(ctx, studentID, subject, count, plan, excludeIDs)
	default:
		return nil, contextutils.ErrorWithContextf("unknown question source: %s", source)
	}
}

// SelectCurrentTopic selects from topics the student is actively studying
// (current and not completed). An empty pool contributes nothing.
func (s *QuestionSelector) SelectCurrentTopic(ctx context.Context, studentID int, subject *models.Subject, count int, plan *SessionConfig, excludeIDs []int) (result0 []models.Question, err error) {
	ctx, span := observability.TraceSelectorFunction(ctx, "select_current_topic",
		observability.AttributeStudentID(studentID),
		observability.AttributeSubjectID(subject.ID),
		observability.AttributeCount(count),
	)
	defer observability.FinishSpan(span, &err)

	studyTopics, err := s.reader.ListCurrentStudyTopics(ctx, studentID, subject.ID)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to list current study topics")
	}

	var topicIDs []int
	for _, t := range studyTopics {
		if t.IsCurrent && !t.IsCompleted {
			topicIDs = append(topicIDs, t.TopicID)
		}
	}
	if len(topicIDs) == 0 {
		span.SetAttributes(attribute.Bool("pool.empty", true))
		return nil, nil
	}

	return s.selectFromPool(ctx, studentID, subject, topicIDs, false, count, plan, excludeIDs)
}

// SelectWeakConcepts selects from the student's weakest topics in the
// subject: mastery at or below the weak-mastery threshold, or strength at or
// below the weak-strength threshold, weakest mastery first.
func (s *QuestionSelector) SelectWeakConcepts(ctx context.Context, studentID int, subject *models.Subject, count int, plan *SessionConfig, excludeIDs []int) (result0 []models.Question, err error) {
	ctx, span := observability.TraceSelectorFunction(ctx, "select_weak_concepts",
		observability.AttributeStudentID(studentID),
		observability.AttributeSubjectID(subject.ID),
		observability.AttributeCount(count),
	)
	defer observability.FinishSpan(span, &err)

	masteries, err := s.reader.ListTopicMastery(ctx, studentID)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to list topic mastery")
	}

	var weak []models.TopicMastery
	for _, m := range masteries {
		if m.SubjectID != subject.ID {
			continue
		}
		if m.MasteryLevel <= float64(s.cfg.Engine.WeakMasteryMax) || m.StrengthIndex <= float64(s.cfg.Engine.WeakStrengthMax) {
			weak = append(weak, m)
		}
	}
	sort.SliceStable(weak, func(i, j int) bool {
		return weak[i].MasteryLevel < weak[j].MasteryLevel
	})
	if len(weak) > s.cfg.Engine.WeakTopicCap {
		weak = weak[:s.cfg.Engine.WeakTopicCap]
	}

	if len(weak) == 0 {
		span.SetAttributes(attribute.Bool("pool.empty", true))
		return nil, nil
	}

	topicIDs := make([]int, len(weak))
	for i, m := range weak {
		topicIDs[i] = m.TopicID
	}

	return s.selectFromPool(ctx, studentID, subject, topicIDs, false, count, plan, excludeIDs)
}

// SelectRevisionTopics selects from completed topics due for review, padded
// with other completed topics when fewer than the minimum qualify.
func (s *QuestionSelector) SelectRevisionTopics(ctx context.Context, studentID int, subject *models.Subject, count int, plan *SessionConfig, excludeIDs []int) (result0 []models.Question, err error) {
	ctx, span := observability.TraceSelectorFunction(ctx, "select_revision_topics",
		observability.AttributeStudentID(studentID),
		observability.AttributeSubjectID(subject.ID),
		observability.AttributeCount(count),
	)
	defer observability.FinishSpan(span, &err)

	topicIDs, err := s.reader.ListDueRevisionTopics(ctx, studentID, subject.ID, s.timeNow())
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to list due revision topics")
	}

	if len(topicIDs) < s.cfg.Engine.MinRevisionTopics {
		// Pad with other completed topics regardless of review status
		studyTopics, err := s.reader.ListCurrentStudyTopics(ctx, studentID, subject.ID)
		if err != nil {
			return nil, contextutils.WrapError(err, "failed to list study topics for revision padding")
		}
		due := make(map[int]bool, len(topicIDs))
		for _, id := range topicIDs {
			due[id] = true
		}
		for _, t := range studyTopics {
			if len(topicIDs) >= s.cfg.Engine.MinRevisionTopics {
				break
			}
			if t.IsCompleted && !due[t.TopicID] {
				topicIDs = append(topicIDs, t.TopicID)
				due[t.TopicID] = true
			}
		}
	}

	if len(topicIDs) == 0 {
		span.SetAttributes(attribute.Bool("pool.empty", true))
		return nil, nil
	}

	return s.selectFromPool(ctx, studentID, subject, topicIDs, false, count, plan, excludeIDs)
}

// SelectPYQ selects previous-year questions subject-wide, most recent exam
// year first. There is no topic pool to run dry, so no empty-pool short
// circuit.
func (s *QuestionSelector) SelectPYQ(ctx context.Context, studentID int, subject *models.Subject, count int, plan *SessionConfig, excludeIDs []int) (result0 []models.Question, err error) {
	ctx, span := observability.TraceSelectorFunction(ctx, "select_pyq",
		observability.AttributeStudentID(studentID),
		observability.AttributeSubjectID(subject.ID),
		observability.AttributeCount(count),
	)
	defer observability.FinishSpan(span, &err)

	return s.selectFromPool(ctx, studentID, subject, nil, true, count, plan, excludeIDs)
}

// selectFromPool is the skeleton shared by all four sources: a per-difficulty
// overfetch pass filtered by category set and recency, then one relaxation
// pass without the difficulty constraint for any shortfall.
func (s *QuestionSelector) selectFromPool(ctx context.Context, studentID int, subject *models.Subject, topicIDs []int, pyqOnly bool, count int, plan *SessionConfig, excludeIDs []int) ([]models.Question, error) {
	if count <= 0 {
		return nil, nil
	}

	chosen := make(map[int]bool, count)
	exclude := make([]int, 0, len(excludeIDs)+count)
	exclude = append(exclude, excludeIDs...)
	for _, id := range excludeIDs {
		chosen[id] = true
	}

	var selected []models.Question
	split := plan.DifficultySplit(count)

	for level := models.DifficultyEasy; level <= models.DifficultyVeryHard; level++ {
		needed := split[level-1]
		if needed == 0 {
			continue
		}

		candidates, err := s.reader.FindQuestions(ctx, &models.QuestionFilter{
			SubjectID:          subject.ID,
			TopicIDs:           topicIDs,
			Difficulty:         level,
			Categories:         plan.Categories,
			PYQOnly:            pyqOnly,
			ExcludeIDs:         exclude,
			Limit:              needed * s.cfg.Engine.LevelOverfetch,
			OrderByPYQYearDesc: pyqOnly,
		})
		if err != nil {
			return nil, contextutils.WrapErrorf(err, "failed to fetch difficulty %d candidates", level)
		}

		candidates = s.excludeRecent(ctx, studentID, candidates)

		taken := 0
		for _, q := range candidates {
			if taken >= needed {
				break
			}
			if chosen[q.ID] {
				continue
			}
			chosen[q.ID] = true
			exclude = append(exclude, q.ID)
			selected = append(selected, q)
			taken++
		}
	}

	// Relaxation pass: drop the difficulty constraint for the shortfall
	if shortfall := count - len(selected); shortfall > 0 {
		candidates, err := s.reader.FindQuestions(ctx, &models.QuestionFilter{
			SubjectID:          subject.ID,
			TopicIDs:           topicIDs,
			Categories:         plan.Categories,
			PYQOnly:            pyqOnly,
			ExcludeIDs:         exclude,
			Limit:              shortfall * s.cfg.Engine.LevelOverfetch,
			OrderByPYQYearDesc: pyqOnly,
		})
		if err != nil {
			return nil, contextutils.WrapError(err, "failed to fetch relaxation candidates")
		}

		candidates = s.excludeRecent(ctx, studentID, candidates)

		taken := 0
		for _, q := range candidates {
			if taken >= shortfall {
				break
			}
			if chosen[q.ID] {
				continue
			}
			chosen[q.ID] = true
			selected = append(selected, q)
			taken++
		}
	}

	return selected, nil
}

// excludeRecent drops candidates the student attempted within the recency
// window. The attempt lookup is batched over the candidate id set; on a
// lookup failure it fails open so a degraded signal cannot block selection.
func (s *QuestionSelector) excludeRecent(ctx context.Context, studentID int, candidates []models.Question) []models.Question {
	if len(candidates) == 0 {
		return candidates
	}

	ids := make([]int, len(candidates))
	for i, q := range candidates {
		ids[i] = q.ID
	}

	attempted, err := s.reader.ListRecentAttempts(ctx, studentID, ids, s.cfg.Engine.RecencyWindowDays)
	if err != nil {
		s.logger.Warn(ctx, "Recent attempt lookup failed, keeping all candidates", map[string]interface{}{
			"student_id": studentID,
			"candidates": len(candidates),
			"error":      err.Error(),
		})
		return candidates
	}
	if len(attempted) == 0 {
		return candidates
	}

	recent := make(map[int]bool, len(attempted))
	for _, id := range attempted {
		recent[id] = true
	}

	filtered := candidates[:0]
	for _, q := range candidates {
		if !recent[q.ID] {
			filtered = append(filtered, q)
		}
	}
	return filtered
}
