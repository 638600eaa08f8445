// Package worker contains the background worker responsible for generating
// adaptive practice sessions for active students on a schedule. The worker
// runs independently of HTTP request handling and exposes pause/resume and
// manual trigger controls plus a status snapshot for the worker HTTP surface.
package worker

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	"prepapp/internal/config"
	"prepapp/internal/observability"
	"prepapp/internal/services"

	"go.opentelemetry.io/otel/attribute"
)

// Status represents the current state of the worker
type Status struct {
	IsRunning       bool      `json:"is_running"`
	IsPaused        bool      `json:"is_paused"`
	CurrentActivity string    `json:"current_activity,omitempty"`
	LastRunStart    time.Time `json:"last_run_start"`
	LastRunFinish   time.Time `json:"last_run_finish"`
	LastRunError    string    `json:"last_run_error,omitempty"`
	NextRun         time.Time `json:"next_run"`
}

// RunRecord tracks individual worker runs
type RunRecord struct {
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Status    string        `json:"status"` // Success, Failure
	Details   string        `json:"details"`
}

// ActivityLog represents a single activity log entry
type ActivityLog struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"` // INFO, WARN, ERROR
	Message   string    `json:"message"`
	StudentID *int      `json:"student_id,omitempty"`
}

// StudentFailureInfo tracks failure information for exponential backoff
type StudentFailureInfo struct {
	ConsecutiveFailures int
	LastFailureTime     time.Time
	NextRetryTime       time.Time
}

// Config holds worker-specific configuration
type Config struct {
	StartWorkerPaused bool
}

// Worker generates practice sessions for active students in the background
type Worker struct {
	reader         services.MasteryReader
	sessionService services.SessionServiceInterface
	instance       string
	status         Status
	history        []RunRecord
	activityLogs   []ActivityLog // Circular buffer for recent activity logs
	mu             sync.RWMutex
	manualTrigger  chan bool
	cfg            *config.Config
	workerCfg      Config
	logger         *observability.Logger

	// Track failures for exponential backoff
	studentFailures map[int]*StudentFailureInfo // studentID -> failure info
	failureMu       sync.RWMutex

	// Time function for testing - defaults to time.Now
	timeNow func() time.Time
	cancel  context.CancelFunc
}

// NewWorker creates a new Worker instance
func NewWorker(reader services.MasteryReader, sessionService services.SessionServiceInterface, instance string, cfg *config.Config, logger *observability.Logger) *Worker {
	if instance == "" {
		instance = "default"
	}

	_, cancel := context.WithCancel(context.Background())

	w := &Worker{
		reader:          reader,
		sessionService:  sessionService,
		instance:        instance,
		status:          Status{IsRunning: false, CurrentActivity: "Initialized"},
		history:         make([]RunRecord, 0, cfg.Server.MaxHistory),
		activityLogs:    make([]ActivityLog, 0, cfg.Server.MaxActivityLogs),
		manualTrigger:   make(chan bool, 1),
		cfg:             cfg,
		workerCfg:       Config{StartWorkerPaused: getEnvBool("WORKER_START_PAUSED", false)},
		logger:          logger,
		studentFailures: make(map[int]*StudentFailureInfo),
		timeNow:         time.Now,
	}

	if w.workerCfg.StartWorkerPaused {
		w.status.IsPaused = true
	}

	w.cancel = cancel

	return w
}

// getEnvBool is a helper function to get boolean environment variables
func getEnvBool(key string, defaultValue bool) bool {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultValue
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		return defaultValue
	}
	return val
}

// Start begins the worker's background processing loop
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	w.status.IsRunning = true
	w.status.NextRun = w.timeNow().Add(w.cfg.Worker.RunInterval)
	w.mu.Unlock()

	ticker := time.NewTicker(w.cfg.Worker.RunInterval)
	defer ticker.Stop()

	initialStatus := "running"
	if w.GetStatus().IsPaused {
		initialStatus = "paused"
	}

	w.logger.Info(ctx, "Worker started", map[string]interface{}{
		"instance":     w.instance,
		"status":       initialStatus,
		"run_interval": w.cfg.Worker.RunInterval.String(),
	})
	w.logActivity(fmt.Sprintf("Worker %s started (%s)", w.instance, initialStatus), nil)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "Worker shutting down", map[string]interface{}{
				"instance": w.instance,
			})
			w.logActivity(fmt.Sprintf("Worker %s shutting down", w.instance), nil)
			w.mu.Lock()
			w.status.IsRunning = false
			w.mu.Unlock()
			return

		case <-ticker.C:
			w.run()

		case <-w.manualTrigger:
			w.logger.Info(ctx, "Worker triggered manually", map[string]interface{}{
				"instance": w.instance,
			})
			w.logActivity(fmt.Sprintf("Worker %s triggered manually", w.instance), nil)
			w.run()
		}
	}
}

// run executes a single worker cycle
func (w *Worker) run() {
	ctx, span := observability.TraceWorkerFunction(context.Background(), "run",
		attribute.String("worker.instance", w.instance),
	)
	defer observability.FinishSpan(span, nil)

	if w.GetStatus().IsPaused {
		span.SetAttributes(attribute.String("pause_reason", "worker paused"))
		w.updateActivity("Paused")
		return
	}

	w.mu.Lock()
	w.status.LastRunStart = w.timeNow()
	w.status.CurrentActivity = "Generating practice sessions"
	w.mu.Unlock()

	details, err := w.ProcessStudentBatch(ctx)

	w.mu.Lock()
	w.status.LastRunFinish = w.timeNow()
	w.status.NextRun = w.status.LastRunFinish.Add(w.cfg.Worker.RunInterval)
	if err != nil {
		w.status.LastRunError = err.Error()
	} else {
		w.status.LastRunError = ""
	}
	w.status.CurrentActivity = "Idle"
	w.mu.Unlock()

	if err != nil {
		w.logger.Error(ctx, "Worker run failed", err, map[string]interface{}{
			"instance": w.instance,
		})
	}

	w.recordRunHistory(details, err)
}

// ProcessStudentBatch generates sessions for all active students, one student
// at a time. A failing student is recorded for exponential backoff and does
// not stop the batch; students still inside their backoff window are skipped.
func (w *Worker) ProcessStudentBatch(ctx context.Context) (result0 string, err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "process_student_batch",
		attribute.String("worker.instance", w.instance),
	)
	defer observability.FinishSpan(span, &err)

	students, err := w.reader.ListActiveStudents(ctx)
	if err != nil {
		return "", err
	}

	span.SetAttributes(attribute.Int("students.total", len(students)))

	processed := 0
	skipped := 0
	failed := 0
	for _, student := range students {
		if w.cfg.Worker.BatchSize > 0 && processed >= w.cfg.Worker.BatchSize {
			break
		}
		if !w.shouldRetryStudent(student.ID) {
			skipped++
			continue
		}

		w.updateActivity(fmt.Sprintf("Generating sessions for student %d", student.ID))

		if genErr := w.sessionService.GenerateForStudent(ctx, student.ID); genErr != nil {
			failed++
			w.recordStudentFailure(ctx, student.ID)
			w.logger.Error(ctx, "Session generation failed for student", genErr, map[string]interface{}{
				"instance":   w.instance,
				"student_id": student.ID,
			})
			studentID := student.ID
			w.logActivity(fmt.Sprintf("Generation failed for student %d: %v", student.ID, genErr), &studentID)
			continue
		}

		w.recordStudentSuccess(ctx, student.ID)
		processed++
	}

	span.SetAttributes(
		attribute.Int("students.processed", processed),
		attribute.Int("students.skipped", skipped),
		attribute.Int("students.failed", failed),
	)

	details := fmt.Sprintf("processed=%d skipped=%d failed=%d of %d students", processed, skipped, failed, len(students))
	w.logActivity("Batch complete: "+details, nil)
	return details, nil
}

// recordRunHistory records the run in history and trims the slice
func (w *Worker) recordRunHistory(details string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	record := RunRecord{
		StartTime: w.status.LastRunStart,
		EndTime:   w.status.LastRunFinish,
		Duration:  w.status.LastRunFinish.Sub(w.status.LastRunStart),
		Details:   details,
	}
	if err != nil {
		record.Status = "Failure"
	} else {
		record.Status = "Success"
	}
	w.history = append(w.history, record)
	if w.cfg.Server.MaxHistory > 0 && len(w.history) > w.cfg.Server.MaxHistory {
		w.history = w.history[len(w.history)-w.cfg.Server.MaxHistory:]
	}
}

// GetStatus returns the current worker status
func (w *Worker) GetStatus() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// GetHistory returns the worker's run history
func (w *Worker) GetHistory() []RunRecord {
	w.mu.RLock()
	defer w.mu.RUnlock()
	// Return a copy to avoid race conditions
	history := make([]RunRecord, len(w.history))
	copy(history, w.history)
	return history
}

// GetActivityLogs returns recent activity logs
func (w *Worker) GetActivityLogs() []ActivityLog {
	w.mu.RLock()
	defer w.mu.RUnlock()

	logs := make([]ActivityLog, len(w.activityLogs))
	copy(logs, w.activityLogs)
	return logs
}

// GetInstance returns the worker instance name
func (w *Worker) GetInstance() string {
	return w.instance
}

// TriggerManualRun triggers a manual worker run
func (w *Worker) TriggerManualRun() {
	ctx := context.Background()
	select {
	case w.manualTrigger <- true:
		w.logger.Info(ctx, "Manual trigger sent to worker", map[string]interface{}{
			"instance": w.instance,
		})
	default:
		w.logger.Info(ctx, "Manual trigger already pending for worker", map[string]interface{}{
			"instance": w.instance,
		})
	}
}

// Pause pauses the worker
func (w *Worker) Pause(ctx context.Context) {
	w.mu.Lock()
	w.status.IsPaused = true
	w.mu.Unlock()

	w.logger.Info(ctx, "Worker paused", map[string]interface{}{
		"instance": w.instance,
	})
	w.logActivity(fmt.Sprintf("Worker %s paused", w.instance), nil)
}

// Resume resumes the worker
func (w *Worker) Resume(ctx context.Context) {
	w.mu.Lock()
	w.status.IsPaused = false
	w.mu.Unlock()

	w.logger.Info(ctx, "Worker resumed", map[string]interface{}{
		"instance": w.instance,
	})
	w.logActivity(fmt.Sprintf("Worker %s resumed", w.instance), nil)
}

// Shutdown gracefully shuts down the worker and cleans up resources
func (w *Worker) Shutdown(ctx context.Context) error {
	w.logger.Info(ctx, "Worker starting shutdown", map[string]interface{}{
		"instance": w.instance,
	})

	if w.cancel != nil {
		w.cancel()
	}

	// Give any in-flight run a moment to notice cancellation
	time.Sleep(config.WorkerSleepDuration)

	w.failureMu.Lock()
	w.studentFailures = make(map[int]*StudentFailureInfo)
	w.failureMu.Unlock()

	w.mu.Lock()
	w.activityLogs = make([]ActivityLog, 0)
	w.mu.Unlock()

	w.logger.Info(ctx, "Worker shutdown completed", map[string]interface{}{
		"instance": w.instance,
	})
	return nil
}

// updateActivity sets the current activity string
func (w *Worker) updateActivity(activity string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.CurrentActivity = activity
}

// logActivity adds an activity log entry to the circular buffer
func (w *Worker) logActivity(message string, studentID *int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	logEntry := ActivityLog{
		Timestamp: w.timeNow(),
		Level:     "INFO",
		Message:   message,
		StudentID: studentID,
	}

	w.activityLogs = append(w.activityLogs, logEntry)

	if w.cfg.Server.MaxActivityLogs > 0 && len(w.activityLogs) > w.cfg.Server.MaxActivityLogs {
		w.activityLogs = w.activityLogs[len(w.activityLogs)-w.cfg.Server.MaxActivityLogs:]
	}
}

// shouldRetryStudent checks if enough time has passed since the last failure
// for exponential backoff
func (w *Worker) shouldRetryStudent(studentID int) bool {
	w.failureMu.RLock()
	defer w.failureMu.RUnlock()

	failure, exists := w.studentFailures[studentID]
	if !exists {
		return true
	}

	return w.timeNow().After(failure.NextRetryTime)
}

// recordStudentFailure records a failure and calculates the next retry time
// with exponential backoff
func (w *Worker) recordStudentFailure(ctx context.Context, studentID int) {
	ctx, span := observability.TraceWorkerFunction(ctx, "record_student_failure",
		observability.AttributeStudentID(studentID),
		attribute.String("worker.instance", w.instance),
	)
	defer observability.FinishSpan(span, nil)

	w.failureMu.Lock()
	defer w.failureMu.Unlock()

	failure, exists := w.studentFailures[studentID]
	if !exists {
		failure = &StudentFailureInfo{}
		w.studentFailures[studentID] = failure
	}

	failure.ConsecutiveFailures++
	failure.LastFailureTime = w.timeNow()

	// Exponential backoff: 2^failures seconds, max 1 hour
	backoffSeconds := int(math.Pow(2, float64(failure.ConsecutiveFailures)))
	if backoffSeconds > 3600 {
		backoffSeconds = 3600
	}
	failure.NextRetryTime = w.timeNow().Add(time.Duration(backoffSeconds) * time.Second)

	span.SetAttributes(
		attribute.Int("failure.count", failure.ConsecutiveFailures),
		attribute.Int("backoff.seconds", backoffSeconds),
	)

	w.logger.Info(ctx, "Worker recorded student failure", map[string]interface{}{
		"instance":           w.instance,
		"student_id":         studentID,
		"failure_count":      failure.ConsecutiveFailures,
		"next_retry_seconds": backoffSeconds,
	})
}

// recordStudentSuccess clears the failure count for a student
func (w *Worker) recordStudentSuccess(ctx context.Context, studentID int) {
	ctx, span := observability.TraceWorkerFunction(ctx, "record_student_success",
		observability.AttributeStudentID(studentID),
		attribute.String("worker.instance", w.instance),
	)
	defer observability.FinishSpan(span, nil)

	w.failureMu.Lock()
	defer w.failureMu.Unlock()

	failure, exists := w.studentFailures[studentID]
	if exists && failure.ConsecutiveFailures > 0 {
		span.SetAttributes(attribute.Int("previous_failures", failure.ConsecutiveFailures))
		w.logger.Info(ctx, "Worker student success after failures, resetting backoff", map[string]interface{}{
			"instance":          w.instance,
			"student_id":        studentID,
			"previous_failures": failure.ConsecutiveFailures,
		})
		delete(w.studentFailures, studentID)
	}
}
