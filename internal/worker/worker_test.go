package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"prepapp/internal/config"
	"prepapp/internal/models"
	"prepapp/internal/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubReader provides active students for batch tests
type stubReader struct {
	students []models.Student
	err      error
}

func (s *stubReader) GetStudent(_ context.Context, studentID int) (*models.Student, error) {
	return &models.Student{ID: studentID}, nil
}

func (s *stubReader) ListActiveStudents(_ context.Context) ([]models.Student, error) {
	return s.students, s.err
}

func (s *stubReader) ListSubjectsForStream(_ context.Context, _ models.Stream) ([]models.Subject, error) {
	return nil, nil
}

func (s *stubReader) GetPerformanceSummary(_ context.Context, _ int) (*models.PerformanceSummary, error) {
	return nil, nil
}

func (s *stubReader) ListSubjectMastery(_ context.Context, _ int) ([]models.SubjectMastery, error) {
	return nil, nil
}

func (s *stubReader) ListTopicMastery(_ context.Context, _ int) ([]models.TopicMastery, error) {
	return nil, nil
}

func (s *stubReader) ListRecentCompletedTests(_ context.Context, _, _ int) ([]models.TestParticipation, error) {
	return nil, nil
}

func (s *stubReader) ListCurrentStudyTopics(_ context.Context, _, _ int) ([]models.CurrentStudyTopic, error) {
	return nil, nil
}

func (s *stubReader) ListDueRevisionTopics(_ context.Context, _, _ int, _ time.Time) ([]int, error) {
	return nil, nil
}

func (s *stubReader) FindQuestions(_ context.Context, _ *models.QuestionFilter) ([]models.Question, error) {
	return nil, nil
}

func (s *stubReader) ListRecentAttempts(_ context.Context, _ int, _ []int, _ int) ([]int, error) {
	return nil, nil
}

// stubSessionService records which students were generated for
type stubSessionService struct {
	generated []int
	failFor   map[int]error
}

func (s *stubSessionService) GenerateForStudent(_ context.Context, studentID int) error {
	if err, ok := s.failFor[studentID]; ok {
		return err
	}
	s.generated = append(s.generated, studentID)
	return nil
}

func (s *stubSessionService) Generate(_ context.Context, _ int, _ []models.Subject, _ models.Grade) error {
	return nil
}

func testWorkerConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			MaxHistory:      5,
			MaxActivityLogs: 10,
		},
		Worker: config.WorkerConfig{
			Instance:    "test",
			RunInterval: time.Hour,
		},
		IsTest: true,
	}
}

func newTestWorker(reader *stubReader, sessions *stubSessionService, cfg *config.Config) *Worker {
	logger := observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})
	return NewWorker(reader, sessions, "test", cfg, logger)
}

func students(ids ...int) []models.Student {
	result := make([]models.Student, len(ids))
	for i, id := range ids {
		result[i] = models.Student{ID: id, IsActive: true}
	}
	return result
}

func TestNewWorker_DefaultInstance(t *testing.T) {
	logger := observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})
	w := NewWorker(&stubReader{}, &stubSessionService{}, "", testWorkerConfig(), logger)

	assert.Equal(t, "default", w.GetInstance())
}

func TestProcessStudentBatch_ProcessesAllStudents(t *testing.T) {
	sessions := &stubSessionService{}
	w := newTestWorker(&stubReader{students: students(1, 2, 3)}, sessions, testWorkerConfig())

	details, err := w.ProcessStudentBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, sessions.generated)
	assert.Contains(t, details, "processed=3")
	assert.Contains(t, details, "failed=0")
}

func TestProcessStudentBatch_FailureDoesNotStopBatch(t *testing.T) {
	sessions := &stubSessionService{failFor: map[int]error{2: errors.New("generation failed")}}
	w := newTestWorker(&stubReader{students: students(1, 2, 3)}, sessions, testWorkerConfig())

	details, err := w.ProcessStudentBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, sessions.generated)
	assert.Contains(t, details, "processed=2")
	assert.Contains(t, details, "failed=1")
}

func TestProcessStudentBatch_BackoffSkipsFailedStudent(t *testing.T) {
	sessions := &stubSessionService{failFor: map[int]error{1: errors.New("generation failed")}}
	w := newTestWorker(&stubReader{students: students(1)}, sessions, testWorkerConfig())

	now := time.Now()
	w.timeNow = func() time.Time { return now }

	// First run records the failure
	details, err := w.ProcessStudentBatch(context.Background())
	require.NoError(t, err)
	assert.Contains(t, details, "failed=1")

	// Second run inside the backoff window skips the student
	details, err = w.ProcessStudentBatch(context.Background())
	require.NoError(t, err)
	assert.Contains(t, details, "skipped=1")

	// After the backoff window the student is retried
	w.timeNow = func() time.Time { return now.Add(time.Minute) }
	details, err = w.ProcessStudentBatch(context.Background())
	require.NoError(t, err)
	assert.Contains(t, details, "failed=1")
}

func TestProcessStudentBatch_SuccessResetsBackoff(t *testing.T) {
	sessions := &stubSessionService{failFor: map[int]error{1: errors.New("flaky")}}
	w := newTestWorker(&stubReader{students: students(1)}, sessions, testWorkerConfig())

	now := time.Now()
	w.timeNow = func() time.Time { return now }

	_, err := w.ProcessStudentBatch(context.Background())
	require.NoError(t, err)
	assert.False(t, w.shouldRetryStudent(1))

	// The student recovers and the retry succeeds
	sessions.failFor = nil
	w.timeNow = func() time.Time { return now.Add(time.Minute) }
	_, err = w.ProcessStudentBatch(context.Background())
	require.NoError(t, err)

	assert.True(t, w.shouldRetryStudent(1))
}

func TestProcessStudentBatch_BatchSizeCap(t *testing.T) {
	cfg := testWorkerConfig()
	cfg.Worker.BatchSize = 2
	sessions := &stubSessionService{}
	w := newTestWorker(&stubReader{students: students(1, 2, 3, 4)}, sessions, cfg)

	details, err := w.ProcessStudentBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, sessions.generated)
	assert.Contains(t, details, "processed=2")
}

func TestProcessStudentBatch_ReaderError(t *testing.T) {
	w := newTestWorker(&stubReader{err: errors.New("db down")}, &stubSessionService{}, testWorkerConfig())

	_, err := w.ProcessStudentBatch(context.Background())
	assert.Error(t, err)
}

func TestPauseResume(t *testing.T) {
	w := newTestWorker(&stubReader{}, &stubSessionService{}, testWorkerConfig())
	ctx := context.Background()

	assert.False(t, w.GetStatus().IsPaused)

	w.Pause(ctx)
	assert.True(t, w.GetStatus().IsPaused)

	w.Resume(ctx)
	assert.False(t, w.GetStatus().IsPaused)
}

func TestRun_PausedSkipsBatch(t *testing.T) {
	sessions := &stubSessionService{}
	w := newTestWorker(&stubReader{students: students(1)}, sessions, testWorkerConfig())

	w.Pause(context.Background())
	w.run()

	assert.Empty(t, sessions.generated)
	assert.Equal(t, "Paused", w.GetStatus().CurrentActivity)
}

func TestRun_RecordsHistory(t *testing.T) {
	sessions := &stubSessionService{}
	w := newTestWorker(&stubReader{students: students(1)}, sessions, testWorkerConfig())

	w.run()

	history := w.GetHistory()
	require.Len(t, history, 1)
	assert.Equal(t, "Success", history[0].Status)
	assert.Contains(t, history[0].Details, "processed=1")
	assert.Equal(t, "Idle", w.GetStatus().CurrentActivity)
	assert.Empty(t, w.GetStatus().LastRunError)
}

func TestRecordRunHistory_Trimmed(t *testing.T) {
	cfg := testWorkerConfig()
	cfg.Server.MaxHistory = 2
	w := newTestWorker(&stubReader{}, &stubSessionService{}, cfg)

	for i := 0; i < 5; i++ {
		w.recordRunHistory("run", nil)
	}

	assert.Len(t, w.GetHistory(), 2)
}

func TestLogActivity_Trimmed(t *testing.T) {
	cfg := testWorkerConfig()
	cfg.Server.MaxActivityLogs = 3
	w := newTestWorker(&stubReader{}, &stubSessionService{}, cfg)

	for i := 0; i < 10; i++ {
		w.logActivity("entry", nil)
	}

	logs := w.GetActivityLogs()
	assert.Len(t, logs, 3)
}

func TestTriggerManualRun_NonBlocking(t *testing.T) {
	w := newTestWorker(&stubReader{}, &stubSessionService{}, testWorkerConfig())

	// Second trigger must not block while the first is still pending
	done := make(chan struct{})
	go func() {
		w.TriggerManualRun()
		w.TriggerManualRun()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("TriggerManualRun blocked")
	}
}

func TestShutdown_ClearsState(t *testing.T) {
	w := newTestWorker(&stubReader{}, &stubSessionService{}, testWorkerConfig())
	w.logActivity("entry", nil)
	w.recordStudentFailure(context.Background(), 1)

	err := w.Shutdown(context.Background())
	require.NoError(t, err)

	assert.Empty(t, w.GetActivityLogs())
	assert.True(t, w.shouldRetryStudent(1))
}
