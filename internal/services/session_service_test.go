package services

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"prepapp/internal/models"
	contextutils "prepapp/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSelector routes every source through a single hook
type stubSelector struct {
	selectBySource func(ctx context.Context, source models.QuestionSource, studentID int, subject *models.Subject, count int, plan *SessionConfig, excludeIDs []int) ([]models.Question, error)
}

func (s *stubSelector) SelectBySource(ctx context.Context, source models.QuestionSource, studentID int, subject *models.Subject, count int, plan *SessionConfig, excludeIDs []int) ([]models.Question, error) {
	if s.selectBySource != nil {
		return s.selectBySource(ctx, source, studentID, subject, count, plan, excludeIDs)
	}
	return nil, nil
}

func (s *stubSelector) SelectCurrentTopic(ctx context.Context, studentID int, subject *models.Subject, count int, plan *SessionConfig, excludeIDs []int) ([]models.Question, error) {
	return s.SelectBySource(ctx, models.SourceCurrentTopic, studentID, subject, count, plan, excludeIDs)
}

func (s *stubSelector) SelectWeakConcepts(ctx context.Context, studentID int, subject *models.Subject, count int, plan *SessionConfig, excludeIDs []int) ([]models.Question, error) {
	return s.SelectBySource(ctx, models.SourceWeakConcepts, studentID, subject, count, plan, excludeIDs)
}

func (s *stubSelector) SelectRevisionTopics(ctx context.Context, studentID int, subject *models.Subject, count int, plan *SessionConfig, excludeIDs []int) ([]models.Question, error) {
	return s.SelectBySource(ctx, models.SourceRevisionTopics, studentID, subject, count, plan, excludeIDs)
}

func (s *stubSelector) SelectPYQ(ctx context.Context, studentID int, subject *models.Subject, count int, plan *SessionConfig, excludeIDs []int) ([]models.Question, error) {
	return s.SelectBySource(ctx, models.SourcePYQ, studentID, subject, count, plan, excludeIDs)
}

// stubGradeService returns a fixed grade
type stubGradeService struct {
	grade models.Grade
	err   error
}

func (s *stubGradeService) CalculateGrade(_ context.Context, _ int) (models.Grade, error) {
	return s.grade, s.err
}

// sessionRecorder captures created sessions across concurrent subjects
type sessionRecorder struct {
	mu       sync.Mutex
	sessions []*models.PracticeSession
}

func (r *sessionRecorder) record(session *models.PracticeSession) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, session)
	return len(r.sessions)
}

func newSessionService(reader *stubMasteryReader, selector QuestionSelectorInterface, grade models.Grade) (*SessionService, *sessionRecorder) {
	recorder := &sessionRecorder{}
	reader.createPracticeSession = func(_ context.Context, session *models.PracticeSession) (int, error) {
		return recorder.record(session), nil
	}
	service := NewSessionService(reader, reader, selector, &stubGradeService{grade: grade}, newTestConfig(), newTestLogger())
	return service, recorder
}

func TestGenerate_SessionHasUniqueQuestions(t *testing.T) {
	selector := &stubSelector{
		selectBySource: func(_ context.Context, source models.QuestionSource, _ int, _ *models.Subject, count int, _ *SessionConfig, _ []int) ([]models.Question, error) {
			// Every source returns the same overlapping id range
			return questionPool(1, count, 1, models.DifficultyMedium), nil
		},
	}
	service, recorder := newSessionService(&stubMasteryReader{}, selector, models.GradeB)

	err := service.Generate(context.Background(), 1, []models.Subject{*testSubject()}, models.GradeB)
	require.NoError(t, err)
	require.Len(t, recorder.sessions, 1)

	session := recorder.sessions[0]
	seen := make(map[int]bool)
	for _, id := range session.QuestionIDs {
		assert.False(t, seen[id], "duplicate question id %d in session", id)
		seen[id] = true
	}
	assert.LessOrEqual(t, len(session.QuestionIDs), newTestConfig().Engine.QuestionsPerSubject)
}

func TestGenerate_SingleSourceCanFillSession(t *testing.T) {
	// Only the pyq source has questions; the shortfall and backfill passes
	// must still assemble a full session
	nextID := 0
	var mu sync.Mutex
	selector := &stubSelector{
		selectBySource: func(_ context.Context, source models.QuestionSource, _ int, _ *models.Subject, count int, _ *SessionConfig, _ []int) ([]models.Question, error) {
			if source != models.SourcePYQ {
				return nil, nil
			}
			mu.Lock()
			defer mu.Unlock()
			questions := questionPool(nextID, count, 1, models.DifficultyMedium)
			nextID += count
			return questions, nil
		},
	}
	reader := &stubMasteryReader{
		findQuestions: func(_ context.Context, filter *models.QuestionFilter) ([]models.Question, error) {
			mu.Lock()
			defer mu.Unlock()
			questions := questionPool(nextID, filter.Limit, 1, models.DifficultyMedium)
			nextID += filter.Limit
			return questions, nil
		},
	}
	service, recorder := newSessionService(reader, selector, models.GradeB)

	err := service.Generate(context.Background(), 1, []models.Subject{*testSubject()}, models.GradeB)
	require.NoError(t, err)
	require.Len(t, recorder.sessions, 1)
	assert.Len(t, recorder.sessions[0].QuestionIDs, newTestConfig().Engine.QuestionsPerSubject)
}

func TestGenerate_ShortSessionIsNotAnError(t *testing.T) {
	selector := &stubSelector{
		selectBySource: func(_ context.Context, source models.QuestionSource, _ int, _ *models.Subject, _ int, _ *SessionConfig, _ []int) ([]models.Question, error) {
			if source == models.SourceCurrentTopic {
				return questionPool(1, 5, 1, models.DifficultyEasy), nil
			}
			return nil, nil
		},
	}
	service, recorder := newSessionService(&stubMasteryReader{}, selector, models.GradeB)

	err := service.Generate(context.Background(), 1, []models.Subject{*testSubject()}, models.GradeB)
	require.NoError(t, err)
	require.Len(t, recorder.sessions, 1)
	assert.Len(t, recorder.sessions[0].QuestionIDs, 5)
}

func TestGenerate_SourceFailureDegradesToZero(t *testing.T) {
	selector := &stubSelector{
		selectBySource: func(_ context.Context, source models.QuestionSource, _ int, _ *models.Subject, count int, _ *SessionConfig, _ []int) ([]models.Question, error) {
			if source == models.SourceWeakConcepts {
				return nil, errors.New("selector exploded")
			}
			return questionPool(source.Priority()*1000, count, 1, models.DifficultyMedium), nil
		},
	}
	service, recorder := newSessionService(&stubMasteryReader{}, selector, models.GradeB)

	err := service.Generate(context.Background(), 1, []models.Subject{*testSubject()}, models.GradeB)
	require.NoError(t, err)
	require.Len(t, recorder.sessions, 1)
	assert.NotEmpty(t, recorder.sessions[0].QuestionIDs)
}

func TestGenerate_ZeroQuestionsSkipsSession(t *testing.T) {
	service, recorder := newSessionService(&stubMasteryReader{}, &stubSelector{}, models.GradeB)

	err := service.Generate(context.Background(), 1, []models.Subject{*testSubject()}, models.GradeB)
	require.NoError(t, err)
	assert.Empty(t, recorder.sessions, "an empty session must not be written")
}

func TestGenerate_StoreFailurePropagates(t *testing.T) {
	selector := &stubSelector{
		selectBySource: func(_ context.Context, _ models.QuestionSource, _ int, _ *models.Subject, count int, _ *SessionConfig, _ []int) ([]models.Question, error) {
			return questionPool(1, count, 1, models.DifficultyMedium), nil
		},
	}
	reader := &stubMasteryReader{
		createPracticeSession: func(_ context.Context, _ *models.PracticeSession) (int, error) {
			return 0, errors.New("insert failed")
		},
	}
	service := NewSessionService(reader, reader, selector, &stubGradeService{grade: models.GradeB}, newTestConfig(), newTestLogger())

	err := service.Generate(context.Background(), 1, []models.Subject{*testSubject()}, models.GradeB)
	assert.Error(t, err)
}

func TestGenerate_OneSessionPerSubject(t *testing.T) {
	selector := &stubSelector{
		selectBySource: func(_ context.Context, _ models.QuestionSource, _ int, subject *models.Subject, count int, _ *SessionConfig, _ []int) ([]models.Question, error) {
			return questionPool(subject.ID*10000, count, 1, models.DifficultyMedium), nil
		},
	}
	service, recorder := newSessionService(&stubMasteryReader{}, selector, models.GradeB)

	subjects := []models.Subject{
		{ID: 1, Name: "Physics", Stream: models.StreamPCM},
		{ID: 2, Name: "Chemistry", Stream: models.StreamPCM},
		{ID: 3, Name: "Mathematics", Stream: models.StreamPCM},
	}
	err := service.Generate(context.Background(), 1, subjects, models.GradeB)
	require.NoError(t, err)
	require.Len(t, recorder.sessions, 3)

	seenSubjects := make(map[int]bool)
	for _, session := range recorder.sessions {
		assert.False(t, seenSubjects[session.SubjectID])
		seenSubjects[session.SubjectID] = true
	}
}

func TestGenerateForStudent_MissingStudent(t *testing.T) {
	reader := &stubMasteryReader{
		getStudent: func(_ context.Context, _ int) (*models.Student, error) {
			return nil, contextutils.ErrStudentNotFound
		},
	}
	service := NewSessionService(reader, reader, &stubSelector{}, &stubGradeService{grade: models.GradeB}, newTestConfig(), newTestLogger())

	err := service.GenerateForStudent(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, contextutils.IsError(err, contextutils.ErrStudentNotFound))
}

func TestGenerateForStudent_NoSubjectsIsNoOp(t *testing.T) {
	created := false
	reader := &stubMasteryReader{
		createPracticeSession: func(_ context.Context, _ *models.PracticeSession) (int, error) {
			created = true
			return 1, nil
		},
	}
	service := NewSessionService(reader, reader, &stubSelector{}, &stubGradeService{grade: models.GradeB}, newTestConfig(), newTestLogger())

	err := service.GenerateForStudent(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestSessionDuration_DefaultsAndPadding(t *testing.T) {
	service := NewSessionService(&stubMasteryReader{}, &stubMasteryReader{}, &stubSelector{}, &stubGradeService{grade: models.GradeB}, newTestConfig(), newTestLogger())

	// Difficulty defaults 1/2/2/3 minutes; an explicit estimate wins
	questions := []models.Question{
		{ID: 1, Difficulty: models.DifficultyEasy},
		{ID: 2, Difficulty: models.DifficultyMedium},
		{ID: 3, Difficulty: models.DifficultyHard},
		{ID: 4, Difficulty: models.DifficultyVeryHard},
		{ID: 5, Difficulty: models.DifficultyEasy, TimeEstimateMin: sql.NullInt32{Int32: 7, Valid: true}},
	}

	// ceil((1+2+2+3+7) * 1.1) = ceil(16.5) = 17
	assert.Equal(t, 17, service.sessionDuration(questions))
}

func TestSessionDuration_UnknownDifficultyUsesMediumDefault(t *testing.T) {
	service := NewSessionService(&stubMasteryReader{}, &stubMasteryReader{}, &stubSelector{}, &stubGradeService{grade: models.GradeB}, newTestConfig(), newTestLogger())

	questions := []models.Question{{ID: 1, Difficulty: 0}}

	// ceil(2 * 1.1) = 3
	assert.Equal(t, 3, service.sessionDuration(questions))
}

func TestMergeByPriority_FirstOccurrenceWins(t *testing.T) {
	results := [][]models.Question{
		{{ID: 1}, {ID: 2}},
		{{ID: 2}, {ID: 3}},
		{{ID: 1}, {ID: 4}},
		{{ID: 5}},
	}

	merged, chosen := mergeByPriority(results, nil, 10)

	ids := make([]int, len(merged))
	for i, q := range merged {
		ids[i] = q.ID
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, ids)
	assert.Len(t, chosen, 5)
}

func TestMergeByPriority_CapsAtTarget(t *testing.T) {
	results := [][]models.Question{
		{{ID: 1}, {ID: 2}, {ID: 3}},
		{{ID: 4}, {ID: 5}, {ID: 6}},
	}

	merged, _ := mergeByPriority(results, nil, 4)
	assert.Len(t, merged, 4)
}
