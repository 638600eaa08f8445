package services

import (
	"context"

	"prepapp/internal/config"
	"prepapp/internal/models"
	"prepapp/internal/observability"
	contextutils "prepapp/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// Weight of each signal in the composite score
const (
	weightSubjectMastery = 0.30
	weightTopicStrength  = 0.20
	weightAccuracy       = 0.35
	weightRecentTests    = 0.15
)

// GradeServiceInterface defines the grade calculation contract
type GradeServiceInterface interface {
	CalculateGrade(ctx context.Context, studentID int) (models.Grade, error)
}

// GradeService converts mastery signals into a discrete skill grade
type GradeService struct {
	reader MasteryReader
	cfg    *config.Config
	logger *observability.Logger
}

// NewGradeService creates a new GradeService instance
func NewGradeService(reader MasteryReader, cfg *config.Config, logger *observability.Logger) *GradeService {
	return &GradeService{
		reader: reader,
		cfg:    cfg,
		logger: logger,
	}
}

// CalculateGrade computes the student's grade from weighted performance
// signals. A student without a performance summary grades D (maximum
// support); a transient accessor failure grades C (safe middle) so session
// generation is never blocked. A missing student record is a hard error.
func (s *GradeService) CalculateGrade(ctx context.Context, studentID int) (result0 models.Grade, err error) {
	ctx, span := observability.TraceGradeFunction(ctx, "calculate_grade",
		observability.AttributeStudentID(studentID),
	)
	defer observability.FinishSpan(span, &err)

	if _, err := s.reader.GetStudent(ctx, studentID); err != nil {
		if contextutils.IsError(err, contextutils.ErrStudentNotFound) {
			return "", err
		}
		// Transient lookup failure: fall back to the safe middle grade
		s.logger.Warn(ctx, "Student lookup failed, defaulting grade", map[string]interface{}{
			"student_id": studentID,
			"grade":      string(models.GradeC),
			"error":      err.Error(),
		})
		span.SetAttributes(observability.AttributeGrade(string(models.GradeC)))
		return models.GradeC, nil
	}

	summary, err := s.reader.GetPerformanceSummary(ctx, studentID)
	if err != nil {
		s.logger.Warn(ctx, "Performance summary lookup failed, defaulting grade", map[string]interface{}{
			"student_id": studentID,
			"grade":      string(models.GradeC),
			"error":      err.Error(),
		})
		span.SetAttributes(observability.AttributeGrade(string(models.GradeC)))
		return models.GradeC, nil
	}
	if summary == nil {
		// New or unscored student: maximum support
		s.logger.Info(ctx, "No performance summary, grading as new student", map[string]interface{}{
			"student_id": studentID,
			"grade":      string(models.GradeD),
		})
		span.SetAttributes(observability.AttributeGrade(string(models.GradeD)))
		return models.GradeD, nil
	}

	accuracy := 0.0
	if summary.Accuracy.Valid {
		accuracy = summary.Accuracy.Float64
	}

	subjectMasteries, err := s.reader.ListSubjectMastery(ctx, studentID)
	if err != nil {
		s.logger.Warn(ctx, "Subject mastery lookup failed, defaulting grade", map[string]interface{}{
			"student_id": studentID,
			"grade":      string(models.GradeC),
			"error":      err.Error(),
		})
		span.SetAttributes(observability.AttributeGrade(string(models.GradeC)))
		return models.GradeC, nil
	}

	topicMasteries, err := s.reader.ListTopicMastery(ctx, studentID)
	if err != nil {
		s.logger.Warn(ctx, "Topic mastery lookup failed, defaulting grade", map[string]interface{}{
			"student_id": studentID,
			"grade":      string(models.GradeC),
			"error":      err.Error(),
		})
		span.SetAttributes(observability.AttributeGrade(string(models.GradeC)))
		return models.GradeC, nil
	}

	recentTests, err := s.reader.ListRecentCompletedTests(ctx, studentID, s.cfg.Engine.RecentTestWindow)
	if err != nil {
		s.logger.Warn(ctx, "Recent test lookup failed, defaulting grade", map[string]interface{}{
			"student_id": studentID,
			"grade":      string(models.GradeC),
			"error":      err.Error(),
		})
		span.SetAttributes(observability.AttributeGrade(string(models.GradeC)))
		return models.GradeC, nil
	}

	avgSubjectMastery := 0.0
	if len(subjectMasteries) > 0 {
		total := 0.0
		for _, m := range subjectMasteries {
			total += m.MasteryLevel
		}
		avgSubjectMastery = total / float64(len(subjectMasteries))
	}

	avgTopicStrength := 0.0
	if len(topicMasteries) > 0 {
		total := 0.0
		for _, m := range topicMasteries {
			total += m.StrengthIndex
		}
		avgTopicStrength = total / float64(len(topicMasteries))
	}

	recentTestScore := 0.0
	if len(recentTests) > 0 {
		total := 0.0
		for _, t := range recentTests {
			total += t.Score
		}
		recentTestScore = total / float64(len(recentTests))
	}

	weightedScore := weightSubjectMastery*(avgSubjectMastery/100) +
		weightTopicStrength*(avgTopicStrength/100) +
		weightAccuracy*(accuracy/100) +
		weightRecentTests*(recentTestScore/100)

	grade := gradeForScore(weightedScore)

	span.SetAttributes(
		attribute.Float64("weighted_score", weightedScore),
		observability.AttributeGrade(string(grade)),
	)
	s.logger.Debug(ctx, "Grade computed", map[string]interface{}{
		"student_id":          studentID,
		"avg_subject_mastery": avgSubjectMastery,
		"avg_topic_strength":  avgTopicStrength,
		"accuracy":            accuracy,
		"recent_test_score":   recentTestScore,
		"weighted_score":      weightedScore,
		"grade":               string(grade),
	})

	return grade, nil
}

// gradeForScore maps a 0-1 weighted score onto the grade tiers
func gradeForScore(score float64) models.Grade {
	switch {
	case score >= 0.90:
		return models.GradeAPlus
	case score >= 0.75:
		return models.GradeA
	case score >= 0.60:
		return models.GradeB
	case score >= 0.40:
		return models.GradeC
	default:
		return models.GradeD
	}
}
