package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"prepapp/internal/models"
	contextutils "prepapp/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateGrade_NoSummaryGradesD(t *testing.T) {
	reader := &stubMasteryReader{
		getPerformanceSummary: func(_ context.Context, _ int) (*models.PerformanceSummary, error) {
			return nil, nil
		},
	}
	service := NewGradeService(reader, newTestConfig(), newTestLogger())

	grade, err := service.CalculateGrade(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.GradeD, grade)
}

func TestCalculateGrade_WeightedScore(t *testing.T) {
	reader := &stubMasteryReader{
		getPerformanceSummary: func(_ context.Context, studentID int) (*models.PerformanceSummary, error) {
			return &models.PerformanceSummary{
				StudentID: studentID,
				Accuracy:  sql.NullFloat64{Float64: 85, Valid: true},
			}, nil
		},
		listSubjectMastery: func(_ context.Context, studentID int) ([]models.SubjectMastery, error) {
			return []models.SubjectMastery{
				{StudentID: studentID, SubjectID: 1, MasteryLevel: 75},
				{StudentID: studentID, SubjectID: 2, MasteryLevel: 85},
			}, nil
		},
		listTopicMastery: func(_ context.Context, studentID int) ([]models.TopicMastery, error) {
			return []models.TopicMastery{
				{StudentID: studentID, TopicID: 10, StrengthIndex: 60},
				{StudentID: studentID, TopicID: 11, StrengthIndex: 80},
			}, nil
		},
		listRecentCompletedTests: func(_ context.Context, studentID, _ int) ([]models.TestParticipation, error) {
			return []models.TestParticipation{
				{StudentID: studentID, Status: models.TestStatusCompleted, Score: 90},
			}, nil
		},
	}
	service := NewGradeService(reader, newTestConfig(), newTestLogger())

	// 0.30*0.80 + 0.20*0.70 + 0.35*0.85 + 0.15*0.90 = 0.8125
	grade, err := service.CalculateGrade(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.GradeA, grade)
}

func TestCalculateGrade_EmptySignalsScoreZero(t *testing.T) {
	// Summary exists but accuracy is NULL and every other signal is empty
	reader := &stubMasteryReader{
		getPerformanceSummary: func(_ context.Context, studentID int) (*models.PerformanceSummary, error) {
			return &models.PerformanceSummary{StudentID: studentID}, nil
		},
	}
	service := NewGradeService(reader, newTestConfig(), newTestLogger())

	grade, err := service.CalculateGrade(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.GradeD, grade)
}

func TestCalculateGrade_AccessorFailureGradesC(t *testing.T) {
	reader := &stubMasteryReader{
		getPerformanceSummary: func(_ context.Context, studentID int) (*models.PerformanceSummary, error) {
			return &models.PerformanceSummary{
				StudentID: studentID,
				Accuracy:  sql.NullFloat64{Float64: 95, Valid: true},
			}, nil
		},
		listSubjectMastery: func(_ context.Context, _ int) ([]models.SubjectMastery, error) {
			return nil, errors.New("connection reset")
		},
	}
	service := NewGradeService(reader, newTestConfig(), newTestLogger())

	grade, err := service.CalculateGrade(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.GradeC, grade)
}

func TestCalculateGrade_SummaryFailureGradesC(t *testing.T) {
	reader := &stubMasteryReader{
		getPerformanceSummary: func(_ context.Context, _ int) (*models.PerformanceSummary, error) {
			return nil, errors.New("query timeout")
		},
	}
	service := NewGradeService(reader, newTestConfig(), newTestLogger())

	grade, err := service.CalculateGrade(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.GradeC, grade)
}

func TestCalculateGrade_MissingStudentIsHardError(t *testing.T) {
	reader := &stubMasteryReader{
		getStudent: func(_ context.Context, _ int) (*models.Student, error) {
			return nil, contextutils.ErrStudentNotFound
		},
	}
	service := NewGradeService(reader, newTestConfig(), newTestLogger())

	_, err := service.CalculateGrade(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, contextutils.IsError(err, contextutils.ErrStudentNotFound))
}

func TestCalculateGrade_Deterministic(t *testing.T) {
	reader := &stubMasteryReader{
		getPerformanceSummary: func(_ context.Context, studentID int) (*models.PerformanceSummary, error) {
			return &models.PerformanceSummary{
				StudentID: studentID,
				Accuracy:  sql.NullFloat64{Float64: 55, Valid: true},
			}, nil
		},
		listSubjectMastery: func(_ context.Context, studentID int) ([]models.SubjectMastery, error) {
			return []models.SubjectMastery{{StudentID: studentID, SubjectID: 1, MasteryLevel: 50}}, nil
		},
	}
	service := NewGradeService(reader, newTestConfig(), newTestLogger())

	first, err := service.CalculateGrade(context.Background(), 1)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		grade, err := service.CalculateGrade(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, first, grade)
	}
}

func TestGradeForScore_Thresholds(t *testing.T) {
	tests := []struct {
		score float64
		want  models.Grade
	}{
		{0.95, models.GradeAPlus},
		{0.90, models.GradeAPlus},
		{0.89, models.GradeA},
		{0.75, models.GradeA},
		{0.74, models.GradeB},
		{0.60, models.GradeB},
		{0.59, models.GradeC},
		{0.40, models.GradeC},
		{0.39, models.GradeD},
		{0, models.GradeD},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, gradeForScore(tt.score), "score %v", tt.score)
	}
}
