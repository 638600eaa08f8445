// Package services contains the practice engine: the mastery data accessor,
// the grade calculator, the session configuration builder, the question
// selector, and the session generator.
package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"prepapp/internal/models"
	"prepapp/internal/observability"
	contextutils "prepapp/internal/utils"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

// MasteryReader defines read-only access to a student's performance records
// and the question catalog
type MasteryReader interface {
	GetStudent(ctx context.Context, studentID int) (*models.Student, error)
	ListActiveStudents(ctx context.Context) ([]models.Student, error)
	ListSubjectsForStream(ctx context.Context, stream models.Stream) ([]models.Subject, error)
	GetPerformanceSummary(ctx context.Context, studentID int) (*models.PerformanceSummary, error)
	ListSubjectMastery(ctx context.Context, studentID int) ([]models.SubjectMastery, error)
	ListTopicMastery(ctx context.Context, studentID int) ([]models.TopicMastery, error)
	ListRecentCompletedTests(ctx context.Context, studentID, limit int) ([]models.TestParticipation, error)
	ListCurrentStudyTopics(ctx context.Context, studentID, subjectID int) ([]models.CurrentStudyTopic, error)
	ListDueRevisionTopics(ctx context.Context, studentID, subjectID int, asOf time.Time) ([]int, error)
	FindQuestions(ctx context.Context, filter *models.QuestionFilter) ([]models.Question, error)
	ListRecentAttempts(ctx context.Context, studentID int, questionIDs []int, sinceDays int) ([]int, error)
}

// SessionStore defines the write side for generated practice sessions
type SessionStore interface {
	CreatePracticeSession(ctx context.Context, session *models.PracticeSession) (int, error)
	ListPracticeSessions(ctx context.Context, studentID, limit int) ([]models.PracticeSession, error)
}

// MasteryService implements MasteryReader and SessionStore on PostgreSQL
type MasteryService struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewMasteryService creates a new MasteryService instance
func NewMasteryService(db *sql.DB, logger *observability.Logger) *MasteryService {
	return &MasteryService{
		db:     db,
		logger: logger,
	}
}

// GetStudent returns the student record, or ErrStudentNotFound if it does not exist
func (s *MasteryService) GetStudent(ctx context.Context, studentID int) (result0 *models.Student, err error) {
	ctx, span := observability.TraceMasteryFunction(ctx, "get_student",
		observability.AttributeStudentID(studentID),
	)
	defer observability.FinishSpan(span, &err)

	var student models.Student
	err = s.db.QueryRowContext(ctx,
		"SELECT id, name, stream, is_active, created_at FROM students WHERE id = $1",
		studentID,
	).Scan(&student.ID, &student.Name, &student.Stream, &student.IsActive, &student.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, contextutils.ErrStudentNotFound
	}
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to get student")
	}

	return &student, nil
}

// ListActiveStudents returns all students eligible for batch generation
func (s *MasteryService) ListActiveStudents(ctx context.Context) (result0 []models.Student, err error) {
	ctx, span := observability.TraceMasteryFunction(ctx, "list_active_students")
	defer observability.FinishSpan(span, &err)

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, stream, is_active, created_at FROM students WHERE is_active = TRUE ORDER BY id",
	)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query active students")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "Failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	var students []models.Student
	for rows.Next() {
		var student models.Student
		if err := rows.Scan(&student.ID, &student.Name, &student.Stream, &student.IsActive, &student.CreatedAt); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan student")
		}
		students = append(students, student)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "error iterating students")
	}

	span.SetAttributes(attribute.Int("students.count", len(students)))
	return students, nil
}

// ListSubjectsForStream returns the subjects belonging to an exam stream
func (s *MasteryService) ListSubjectsForStream(ctx context.Context, stream models.Stream) (result0 []models.Subject, err error) {
	ctx, span := observability.TraceMasteryFunction(ctx, "list_subjects_for_stream",
		observability.AttributeStream(string(stream)),
	)
	defer observability.FinishSpan(span, &err)

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, stream FROM subjects WHERE stream = $1 ORDER BY id",
		stream,
	)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query subjects")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "Failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	var subjects []models.Subject
	for rows.Next() {
		var subject models.Subject
		if err := rows.Scan(&subject.ID, &subject.Name, &subject.Stream); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan subject")
		}
		subjects = append(subjects, subject)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "error iterating subjects")
	}

	return subjects, nil
}

// GetPerformanceSummary returns the student's overall performance summary,
// or nil when the student has not been scored yet
func (s *MasteryService) GetPerformanceSummary(ctx context.Context, studentID int) (result0 *models.PerformanceSummary, err error) {
	ctx, span := observability.TraceMasteryFunction(ctx, "get_performance_summary",
		observability.AttributeStudentID(studentID),
	)
	defer observability.FinishSpan(span, &err)

	var summary models.PerformanceSummary
	err = s.db.QueryRowContext(ctx,
		"SELECT student_id, accuracy, updated_at FROM performance_summaries WHERE student_id = $1",
		studentID,
	).Scan(&summary.StudentID, &summary.Accuracy, &summary.UpdatedAt)
	if err == sql.ErrNoRows {
		// Absent summary is a documented state, not an error
		return nil, nil
	}
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to get performance summary")
	}

	return &summary, nil
}

// ListSubjectMastery returns all per-subject mastery rows for the student
func (s *MasteryService) ListSubjectMastery(ctx context.Context, studentID int) (result0 []models.SubjectMastery, err error) {
	ctx, span := observability.TraceMasteryFunction(ctx, "list_subject_mastery",
		observability.AttributeStudentID(studentID),
	)
	defer observability.FinishSpan(span, &err)

	rows, err := s.db.QueryContext(ctx,
		"SELECT student_id, subject_id, mastery_level FROM subject_mastery WHERE student_id = $1",
		studentID,
	)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query subject mastery")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "Failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	var masteries []models.SubjectMastery
	for rows.Next() {
		var m models.SubjectMastery
		if err := rows.Scan(&m.StudentID, &m.SubjectID, &m.MasteryLevel); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan subject mastery")
		}
		masteries = append(masteries, m)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "error iterating subject mastery")
	}

	return masteries, nil
}

// ListTopicMastery returns all per-topic mastery rows for the student
func (s *MasteryService) ListTopicMastery(ctx context.Context, studentID int) (result0 []models.TopicMastery, err error) {
	ctx, span := observability.TraceMasteryFunction(ctx, "list_topic_mastery",
		observability.AttributeStudentID(studentID),
	)
	defer observability.FinishSpan(span, &err)

	rows, err := s.db.QueryContext(ctx,
		"SELECT tm.student_id, t.subject_id, tm.topic_id, tm.mastery_level, tm.strength_index "+
			"FROM topic_mastery tm JOIN topics t ON t.id = tm.topic_id WHERE tm.student_id = $1",
		studentID,
	)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query topic mastery")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "Failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	var masteries []models.TopicMastery
	for rows.Next() {
		var m models.TopicMastery
		if err := rows.Scan(&m.StudentID, &m.SubjectID, &m.TopicID, &m.MasteryLevel, &m.StrengthIndex); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan topic mastery")
		}
		masteries = append(masteries, m)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "error iterating topic mastery")
	}

	return masteries, nil
}

// ListRecentCompletedTests returns the student's most recent completed test
// participations ordered by end time descending
func (s *MasteryService) ListRecentCompletedTests(ctx context.Context, studentID, limit int) (result0 []models.TestParticipation, err error) {
	ctx, span := observability.TraceMasteryFunction(ctx, "list_recent_completed_tests",
		observability.AttributeStudentID(studentID),
		attribute.Int("limit", limit),
	)
	defer observability.FinishSpan(span, &err)

	rows, err := s.db.QueryContext(ctx,
		"SELECT student_id, status, score, end_time FROM test_participations "+
			"WHERE student_id = $1 AND status = $2 AND end_time IS NOT NULL "+
			"ORDER BY end_time DESC LIMIT $3",
		studentID, models.TestStatusCompleted, limit,
	)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query test participations")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "Failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	var tests []models.TestParticipation
	for rows.Next() {
		var t models.TestParticipation
		if err := rows.Scan(&t.StudentID, &t.Status, &t.Score, &t.EndTime); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan test participation")
		}
		tests = append(tests, t)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "error iterating test participations")
	}

	return tests, nil
}

// ListCurrentStudyTopics returns the study-plan topic markers for one subject
func (s *MasteryService) ListCurrentStudyTopics(ctx context.Context, studentID, subjectID int) (result0 []models.CurrentStudyTopic, err error) {
	ctx, span := observability.TraceMasteryFunction(ctx, "list_current_study_topics",
		observability.AttributeStudentID(studentID),
		observability.AttributeSubjectID(subjectID),
	)
	defer observability.FinishSpan(span, &err)

	rows, err := s.db.QueryContext(ctx,
		"SELECT student_id, subject_id, topic_id, is_current, is_completed, started_at "+
			"FROM study_topics WHERE student_id = $1 AND subject_id = $2 ORDER BY started_at",
		studentID, subjectID,
	)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query study topics")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "Failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	var topics []models.CurrentStudyTopic
	for rows.Next() {
		var t models.CurrentStudyTopic
		if err := rows.Scan(&t.StudentID, &t.SubjectID, &t.TopicID, &t.IsCurrent, &t.IsCompleted, &t.StartedAt); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan study topic")
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "error iterating study topics")
	}

	return topics, nil
}

// ListDueRevisionTopics returns completed topics whose next review is due
func (s *MasteryService) ListDueRevisionTopics(ctx context.Context, studentID, subjectID int, asOf time.Time) (result0 []int, err error) {
	ctx, span := observability.TraceMasteryFunction(ctx, "list_due_revision_topics",
		observability.AttributeStudentID(studentID),
		observability.AttributeSubjectID(subjectID),
	)
	defer observability.FinishSpan(span, &err)

	rows, err := s.db.QueryContext(ctx,
		"SELECT rs.topic_id FROM review_schedules rs "+
			"JOIN study_topics st ON st.student_id = rs.student_id AND st.topic_id = rs.topic_id "+
			"WHERE rs.student_id = $1 AND st.subject_id = $2 AND st.is_completed = TRUE AND rs.next_review_at <= $3 "+
			"ORDER BY rs.next_review_at",
		studentID, subjectID, asOf,
	)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query due revision topics")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "Failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	var topicIDs []int
	for rows.Next() {
		var topicID int
		if err := rows.Scan(&topicID); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan revision topic")
		}
		topicIDs = append(topicIDs, topicID)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "error iterating revision topics")
	}

	return topicIDs, nil
}

// FindQuestions queries the question catalog. Only published questions are
// returned regardless of the filter.
func (s *MasteryService) FindQuestions(ctx context.Context, filter *models.QuestionFilter) (result0 []models.Question, err error) {
	ctx, span := observability.TraceMasteryFunction(ctx, "find_questions",
		observability.AttributeSubjectID(filter.SubjectID),
		attribute.Int("filter.limit", filter.Limit),
		attribute.Int("filter.difficulty", filter.Difficulty),
		attribute.Bool("filter.pyq_only", filter.PYQOnly),
	)
	defer observability.FinishSpan(span, &err)

	query, args := buildQuestionQuery(filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query questions")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "Failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	var questions []models.Question
	for rows.Next() {
		var q models.Question
		if err := rows.Scan(&q.ID, &q.SubjectID, &q.TopicID, &q.Difficulty, &q.Categories, &q.PYQYear, &q.TimeEstimateMin, &q.IsPublished, &q.CreatedAt); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan question")
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "error iterating questions")
	}

	span.SetAttributes(attribute.Int("questions.count", len(questions)))
	return questions, nil
}

// buildQuestionQuery assembles the catalog query for a filter
func buildQuestionQuery(filter *models.QuestionFilter) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("SELECT id, subject_id, topic_id, difficulty, categories, pyq_year, time_estimate_min, is_published, created_at ")
	sb.WriteString("FROM questions WHERE is_published = TRUE AND subject_id = $1")

	args := []interface{}{filter.SubjectID}
	argN := 2

	if len(filter.TopicIDs) > 0 {
		sb.WriteString(fmt.Sprintf(" AND topic_id = ANY($%d)", argN))
		args = append(args, pq.Array(filter.TopicIDs))
		argN++
	}

	if filter.Difficulty > 0 {
		sb.WriteString(fmt.Sprintf(" AND difficulty = $%d", argN))
		args = append(args, filter.Difficulty)
		argN++
	}

	if len(filter.Categories) > 0 {
		// Overlap: the question carries at least one allowed category tag
		cats := make([]string, len(filter.Categories))
		for i, c := range filter.Categories {
			cats[i] = string(c)
		}
		sb.WriteString(fmt.Sprintf(" AND categories && $%d", argN))
		args = append(args, pq.Array(cats))
		argN++
	}

	if filter.PYQOnly {
		sb.WriteString(" AND pyq_year IS NOT NULL")
	}

	if len(filter.ExcludeIDs) > 0 {
		sb.WriteString(fmt.Sprintf(" AND id <> ALL($%d)", argN))
		args = append(args, pq.Array(filter.ExcludeIDs))
		argN++
	}

	if filter.OrderByPYQYearDesc {
		sb.WriteString(" ORDER BY pyq_year DESC NULLS LAST, id")
	} else {
		sb.WriteString(" ORDER BY id")
	}

	if filter.Limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT $%d", argN))
		args = append(args, filter.Limit)
	}

	return sb.String(), args
}

// ListRecentAttempts returns the subset of questionIDs the student attempted
// within the last sinceDays days
func (s *MasteryService) ListRecentAttempts(ctx context.Context, studentID int, questionIDs []int, sinceDays int) (result0 []int, err error) {
	ctx, span := observability.TraceMasteryFunction(ctx, "list_recent_attempts",
		observability.AttributeStudentID(studentID),
		attribute.Int("question_ids.count", len(questionIDs)),
		attribute.Int("since_days", sinceDays),
	)
	defer observability.FinishSpan(span, &err)

	if len(questionIDs) == 0 {
		return nil, nil
	}

	since := time.Now().AddDate(0, 0, -sinceDays)

	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT question_id FROM attempts "+
			"WHERE student_id = $1 AND question_id = ANY($2) AND solved_at >= $3",
		studentID, pq.Array(questionIDs), since,
	)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query recent attempts")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "Failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	var attempted []int
	for rows.Next() {
		var questionID int
		if err := rows.Scan(&questionID); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan attempt")
		}
		attempted = append(attempted, questionID)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "error iterating attempts")
	}

	return attempted, nil
}

// CreatePracticeSession inserts one generated session row and returns its id
func (s *MasteryService) CreatePracticeSession(ctx context.Context, session *models.PracticeSession) (result0 int, err error) {
	ctx, span := observability.TraceMasteryFunction(ctx, "create_practice_session",
		observability.AttributeStudentID(session.StudentID),
		observability.AttributeSubjectID(session.SubjectID),
		attribute.Int("question_count", len(session.QuestionIDs)),
		attribute.Int("duration_min", session.DurationMin),
	)
	defer observability.FinishSpan(span, &err)

	var sessionID int
	err = s.db.QueryRowContext(ctx,
		"INSERT INTO practice_sessions (student_id, subject_id, duration_min, question_ids, completed_count, correct_count) "+
			"VALUES ($1, $2, $3, $4, 0, 0) RETURNING id",
		session.StudentID, session.SubjectID, session.DurationMin, pq.Array(session.QuestionIDs),
	).Scan(&sessionID)
	if err != nil {
		return 0, contextutils.WrapError(err, "failed to insert practice session")
	}

	s.logger.Info(ctx, "Practice session created", map[string]interface{}{
		"session_id":   sessionID,
		"student_id":   session.StudentID,
		"subject_id":   session.SubjectID,
		"questions":    len(session.QuestionIDs),
		"duration_min": session.DurationMin,
	})

	return sessionID, nil
}

// ListPracticeSessions returns a student's most recent generated sessions
func (s *MasteryService) ListPracticeSessions(ctx context.Context, studentID, limit int) (result0 []models.PracticeSession, err error) {
	ctx, span := observability.TraceMasteryFunction(ctx, "list_practice_sessions",
		observability.AttributeStudentID(studentID),
		attribute.Int("limit", limit),
	)
	defer observability.FinishSpan(span, &err)

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, student_id, subject_id, duration_min, question_ids, completed_count, correct_count, created_at "+
			"FROM practice_sessions WHERE student_id = $1 ORDER BY created_at DESC LIMIT $2",
		studentID, limit,
	)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query practice sessions")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "Failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	var sessions []models.PracticeSession
	for rows.Next() {
		var sess models.PracticeSession
		var questionIDs pq.Int64Array
		if err := rows.Scan(&sess.ID, &sess.StudentID, &sess.SubjectID, &sess.DurationMin, &questionIDs, &sess.CompletedCount, &sess.CorrectCount, &sess.CreatedAt); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan practice session")
		}
		sess.QuestionIDs = make([]int, len(questionIDs))
		for i, id := range questionIDs {
			sess.QuestionIDs[i] = int(id)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "error iterating practice sessions")
	}

	return sessions, nil
}
