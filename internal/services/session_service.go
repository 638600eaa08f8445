package services

import (
	"context"
	"math"
	"math/rand"

	"prepapp/internal/config"
	"prepapp/internal/models"
	"prepapp/internal/observability"
	contextutils "prepapp/internal/utils"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Per-question time defaults in minutes by difficulty level. Levels 2 and 3
// share the same default.
var defaultTimeByDifficulty = map[int]int{
	models.DifficultyEasy:     1,
	models.DifficultyMedium:   2,
	models.DifficultyHard:     2,
	models.DifficultyVeryHard: 3,
}

// SessionServiceInterface defines the session generation contract
type SessionServiceInterface interface {
	GenerateForStudent(ctx context.Context, studentID int) error
	Generate(ctx context.Context, studentID int, subjects []models.Subject, grade models.Grade) error
}

// SessionService orchestrates session generation: grade, per-subject plan,
// concurrent source selection, merge, backfill, shuffle, and persistence
type SessionService struct {
	reader       MasteryReader
	store        SessionStore
	selector     QuestionSelectorInterface
	gradeService GradeServiceInterface
	cfg          *config.Config
	logger       *observability.Logger
}

// NewSessionService creates a new SessionService instance
func NewSessionService(reader MasteryReader, store SessionStore, selector QuestionSelectorInterface, gradeService GradeServiceInterface, cfg *config.Config, logger *observability.Logger) *SessionService {
	return &SessionService{
		reader:       reader,
		store:        store,
		selector:     selector,
		gradeService: gradeService,
		cfg:          cfg,
		logger:       logger,
	}
}

// GenerateForStudent computes the student's grade and generates one practice
// session per subject in the student's stream
func (s *SessionService) GenerateForStudent(ctx context.Context, studentID int) (err error) {
	ctx, span := observability.TraceSessionFunction(ctx, "generate_for_student",
		observability.AttributeStudentID(studentID),
	)
	defer observability.FinishSpan(span, &err)

	student, err := s.reader.GetStudent(ctx, studentID)
	if err != nil {
		return contextutils.WrapErrorf(err, "cannot generate sessions for student %d", studentID)
	}

	grade, err := s.gradeService.CalculateGrade(ctx, studentID)
	if err != nil {
		return contextutils.WrapError(err, "failed to calculate grade")
	}

	subjects, err := s.reader.ListSubjectsForStream(ctx, student.Stream)
	if err != nil {
		return contextutils.WrapError(err, "failed to list subjects")
	}
	if len(subjects) == 0 {
		s.logger.Warn(ctx, "No subjects found for stream", map[string]interface{}{
			"student_id": studentID,
			"stream":     string(student.Stream),
		})
		return nil
	}

	span.SetAttributes(
		observability.AttributeGrade(string(grade)),
		attribute.Int("subjects.count", len(subjects)),
	)

	return s.Generate(ctx, studentID, subjects, grade)
}

// Generate runs session generation for each subject concurrently. Subjects
// are independent: each assembles its question set in isolation and writes
// once. A subject failure is logged and re-raised to the caller.
func (s *SessionService) Generate(ctx context.Context, studentID int, subjects []models.Subject, grade models.Grade) (err error) {
	ctx, span := observability.TraceSessionFunction(ctx, "generate",
		observability.AttributeStudentID(studentID),
		observability.AttributeGrade(string(grade)),
		attribute.Int("subjects.count", len(subjects)),
	)
	defer observability.FinishSpan(span, &err)

	var g errgroup.Group
	for i := range subjects {
		subject := subjects[i]
		g.Go(func() error {
			if genErr := s.generateSubject(ctx, studentID, &subject, grade); genErr != nil {
				s.logger.Error(ctx, "Subject session generation failed", genErr, map[string]interface{}{
					"student_id": studentID,
					"subject_id": subject.ID,
				})
				return contextutils.WrapErrorf(genErr, "subject %d generation failed", subject.ID)
			}
			return nil
		})
	}

	return g.Wait()
}

// generateSubject builds and persists one subject's session
func (s *SessionService) generateSubject(ctx context.Context, studentID int, subject *models.Subject, grade models.Grade) (err error) {
	ctx, span := observability.TraceSessionFunction(ctx, "generate_subject",
		observability.AttributeStudentID(studentID),
		observability.AttributeSubjectID(subject.ID),
		observability.AttributeGrade(string(grade)),
	)
	defer observability.FinishSpan(span, &err)

	target := s.cfg.Engine.QuestionsPerSubject
	plan := BuildSessionConfig(subject.Stream, grade, target)

	// Fan out the four sources concurrently; a single source failure
	// degrades to a zero-question contribution and falls through to backfill
	results := s.selectAllSources(ctx, studentID, subject, plan, nil, 1)

	unique, chosen := mergeByPriority(results, nil, target)

	// Backfill pass 1: recompute the split for the shortfall and re-invoke
	// the sources with an over-fetch multiplier, excluding chosen ids
	if shortfall := target - len(unique); shortfall > 0 {
		shortfallPlan := BuildSessionConfig(subject.Stream, grade, shortfall)
		excludeIDs := idList(chosen)
		more := s.selectAllSources(ctx, studentID, subject, shortfallPlan, excludeIDs, s.cfg.Engine.BackfillOverfetch)
		unique, chosen = mergeByPriority(more, unique, target)
	}

	// Backfill of last resort: one subject-wide query with no topic,
	// category, or difficulty restriction
	if shortfall := target - len(unique); shortfall > 0 {
		candidates, ferr := s.reader.FindQuestions(ctx, &models.QuestionFilter{
			SubjectID:  subject.ID,
			ExcludeIDs: idList(chosen),
			Limit:      shortfall,
		})
		if ferr != nil {
			s.logger.Warn(ctx, "Subject-wide backfill query failed", map[string]interface{}{
				"student_id": studentID,
				"subject_id": subject.ID,
				"error":      ferr.Error(),
			})
		} else {
			for _, q := range candidates {
				if len(unique) >= target {
					break
				}
				if chosen[q.ID] {
					continue
				}
				chosen[q.ID] = true
				unique = append(unique, q)
			}
		}
	}

	if len(unique) == 0 {
		// Nothing matched anywhere in the subject; skip the session rather
		// than writing an empty one
		s.logger.Warn(ctx, "No questions available for subject, skipping session", map[string]interface{}{
			"student_id": studentID,
			"subject_id": subject.ID,
		})
		span.SetAttributes(attribute.Bool("session.skipped", true))
		return nil
	}

	// Final order must not correlate with selection priority
	rand.Shuffle(len(unique), func(i, j int) {
		unique[i], unique[j] = unique[j], unique[i]
	})

	questionIDs := make([]int, len(unique))
	for i, q := range unique {
		questionIDs[i] = q.ID
	}

	session := &models.PracticeSession{
		StudentID:   studentID,
		SubjectID:   subject.ID,
		DurationMin: s.sessionDuration(unique),
		QuestionIDs: questionIDs,
	}

	sessionID, err := s.store.CreatePracticeSession(ctx, session)
	if err != nil {
		return contextutils.WrapError(err, "failed to persist practice session")
	}

	span.SetAttributes(
		attribute.Int("session.id", sessionID),
		attribute.Int("session.questions", len(questionIDs)),
		attribute.Int("session.duration_min", session.DurationMin),
	)
	if len(questionIDs) < target {
		s.logger.Info(ctx, "Session generated short of target", map[string]interface{}{
			"student_id": studentID,
			"subject_id": subject.ID,
			"session_id": sessionID,
			"questions":  len(questionIDs),
			"target":     target,
		})
	}

	return nil
}

// selectAllSources invokes the four selectors concurrently and returns their
// results indexed by priority order. Selector failures are logged and treated
// as zero-question contributions.
func (s *SessionService) selectAllSources(ctx context.Context, studentID int, subject *models.Subject, plan *SessionConfig, excludeIDs []int, overfetch int) [][]models.Question {
	sources := models.AllSources()
	results := make([][]models.Question, len(sources))

	var g errgroup.Group
	for i, source := range sources {
		i, source := i, source
		g.Go(func() error {
			count := plan.SourceCounts[source] * overfetch
			questions, selErr := s.selector.SelectBySource(ctx, source, studentID, subject, count, plan, excludeIDs)
			if selErr != nil {
				s.logger.Warn(ctx, "Source selection failed, contributing zero questions", map[string]interface{}{
					"student_id": studentID,
					"subject_id": subject.ID,
					"source":     string(source),
					"error":      selErr.Error(),
				})
				return nil
			}
			results[i] = questions
			return nil
		})
	}
	// Closures always return nil; Wait is just the join point
	_ = g.Wait()

	return results
}

// mergeByPriority appends source results to the already-merged set in
// priority order, first occurrence wins, capped at target
func mergeByPriority(results [][]models.Question, merged []models.Question, target int) ([]models.Question, map[int]bool) {
	chosen := make(map[int]bool, target)
	for _, q := range merged {
		chosen[q.ID] = true
	}

	for _, sourceQuestions := range results {
		for _, q := range sourceQuestions {
			if len(merged) >= target {
				return merged, chosen
			}
			if chosen[q.ID] {
				continue
			}
			chosen[q.ID] = true
			merged = append(merged, q)
		}
	}

	return merged, chosen
}

// idList flattens a chosen-id set for use as a query exclusion
func idList(chosen map[int]bool) []int {
	ids := make([]int, 0, len(chosen))
	for id := range chosen {
		ids = append(ids, id)
	}
	return ids
}

// sessionDuration sums each question's time estimate, applying the
// per-difficulty defaults where no explicit estimate exists, then pads and
// rounds up to a whole minute
func (s *SessionService) sessionDuration(questions []models.Question) int {
	total := 0
	for _, q := range questions {
		if q.TimeEstimateMin.Valid && q.TimeEstimateMin.Int32 > 0 {
			total += int(q.TimeEstimateMin.Int32)
			continue
		}
		if minutes, ok := defaultTimeByDifficulty[q.Difficulty]; ok {
			total += minutes
		} else {
			total += defaultTimeByDifficulty[models.DifficultyMedium]
		}
	}

	return int(math.Ceil(float64(total) * s.cfg.Engine.DurationPadding))
}
