package services

import (
	"context"
	"time"

	"prepapp/internal/config"
	"prepapp/internal/models"
	"prepapp/internal/observability"
)

// stubMasteryReader implements MasteryReader and SessionStore with
// per-method function hooks. Unset hooks return empty results.
type stubMasteryReader struct {
	getStudent               func(ctx context.Context, studentID int) (*models.Student, error)
	listActiveStudents       func(ctx context.Context) ([]models.Student, error)
	listSubjectsForStream    func(ctx context.Context, stream models.Stream) ([]models.Subject, error)
	getPerformanceSummary    func(ctx context.Context, studentID int) (*models.PerformanceSummary, error)
	listSubjectMastery       func(ctx context.Context, studentID int) ([]models.SubjectMastery, error)
	listTopicMastery         func(ctx context.Context, studentID int) ([]models.TopicMastery, error)
	listRecentCompletedTests func(ctx context.Context, studentID, limit int) ([]models.TestParticipation, error)
	listCurrentStudyTopics   func(ctx context.Context, studentID, subjectID int) ([]models.CurrentStudyTopic, error)
	listDueRevisionTopics    func(ctx context.Context, studentID, subjectID int, asOf time.Time) ([]int, error)
	findQuestions            func(ctx context.Context, filter *models.QuestionFilter) ([]models.Question, error)
	listRecentAttempts       func(ctx context.Context, studentID int, questionIDs []int, sinceDays int) ([]int, error)
	createPracticeSession    func(ctx context.Context, session *models.PracticeSession) (int, error)
	listPracticeSessions     func(ctx context.Context, studentID, limit int) ([]models.PracticeSession, error)
}

func (s *stubMasteryReader) GetStudent(ctx context.Context, studentID int) (*models.Student, error) {
	if s.getStudent != nil {
		return s.getStudent(ctx, studentID)
	}
	return &models.Student{ID: studentID, Name: "Test Student", Stream: models.StreamPCM, IsActive: true}, nil
}

func (s *stubMasteryReader) ListActiveStudents(ctx context.Context) ([]models.Student, error) {
	if s.listActiveStudents != nil {
		return s.listActiveStudents(ctx)
	}
	return nil, nil
}

func (s *stubMasteryReader) ListSubjectsForStream(ctx context.Context, stream models.Stream) ([]models.Subject, error) {
	if s.listSubjectsForStream != nil {
		return s.listSubjectsForStream(ctx, stream)
	}
	return nil, nil
}

func (s *stubMasteryReader) GetPerformanceSummary(ctx context.Context, studentID int) (*models.PerformanceSummary, error) {
	if s.getPerformanceSummary != nil {
		return s.getPerformanceSummary(ctx, studentID)
	}
	return nil, nil
}

func (s *stubMasteryReader) ListSubjectMastery(ctx context.Context, studentID int) ([]models.SubjectMastery, error) {
	if s.listSubjectMastery != nil {
		return s.listSubjectMastery(ctx, studentID)
	}
	return nil, nil
}

func (s *stubMasteryReader) ListTopicMastery(ctx context.Context, studentID int) ([]models.TopicMastery, error) {
	if s.listTopicMastery != nil {
		return s.listTopicMastery(ctx, studentID)
	}
	return nil, nil
}

func (s *stubMasteryReader) ListRecentCompletedTests(ctx context.Context, studentID, limit int) ([]models.TestParticipation, error) {
	if s.listRecentCompletedTests != nil {
		return s.listRecentCompletedTests(ctx, studentID, limit)
	}
	return nil, nil
}

func (s *stubMasteryReader) ListCurrentStudyTopics(ctx context.Context, studentID, subjectID int) ([]models.CurrentStudyTopic, error) {
	if s.listCurrentStudyTopics != nil {
		return s.listCurrentStudyTopics(ctx, studentID, subjectID)
	}
	return nil, nil
}

func (s *stubMasteryReader) ListDueRevisionTopics(ctx context.Context, studentID, subjectID int, asOf time.Time) ([]int, error) {
	if s.listDueRevisionTopics != nil {
		return s.listDueRevisionTopics(ctx, studentID, subjectID, asOf)
	}
	return nil, nil
}

func (s *stubMasteryReader) FindQuestions(ctx context.Context, filter *models.QuestionFilter) ([]models.Question, error) {
	if s.findQuestions != nil {
		return s.findQuestions(ctx, filter)
	}
	return nil, nil
}

func (s *stubMasteryReader) ListRecentAttempts(ctx context.Context, studentID int, questionIDs []int, sinceDays int) ([]int, error) {
	if s.listRecentAttempts != nil {
		return s.listRecentAttempts(ctx, studentID, questionIDs, sinceDays)
	}
	return nil, nil
}

func (s *stubMasteryReader) CreatePracticeSession(ctx context.Context, session *models.PracticeSession) (int, error) {
	if s.createPracticeSession != nil {
		return s.createPracticeSession(ctx, session)
	}
	return 1, nil
}

func (s *stubMasteryReader) ListPracticeSessions(ctx context.Context, studentID, limit int) ([]models.PracticeSession, error) {
	if s.listPracticeSessions != nil {
		return s.listPracticeSessions(ctx, studentID, limit)
	}
	return nil, nil
}

// newTestConfig returns a config with the default engine knobs filled in
func newTestConfig() *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			QuestionsPerSubject: config.DefaultQuestionsPerSubject,
			RecencyWindowDays:   config.DefaultRecencyWindowDays,
			WeakMasteryMax:      config.DefaultWeakMasteryMax,
			WeakStrengthMax:     config.DefaultWeakStrengthMax,
			WeakTopicCap:        config.DefaultWeakTopicCap,
			MinRevisionTopics:   config.DefaultMinRevisionTopics,
			LevelOverfetch:      config.DefaultLevelOverfetch,
			BackfillOverfetch:   config.DefaultBackfillOverfetch,
			RecentTestWindow:    config.DefaultRecentTestWindow,
			DurationPadding:     config.DefaultDurationPadding,
		},
		IsTest: true,
	}
}

// newTestLogger returns a no-op logger
func newTestLogger() *observability.Logger {
	return observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})
}
