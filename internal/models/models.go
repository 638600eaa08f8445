// Package models defines the core data structures for students, mastery
// records, the question catalog, and generated practice sessions.
package models

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// Grade represents a discrete skill tier derived from weighted performance signals
type Grade string

// Grade tiers, best to worst
const (
	GradeAPlus Grade = "A+"
	GradeA     Grade = "A"
	GradeB     Grade = "B"
	GradeC     Grade = "C"
	GradeD     Grade = "D"
)

// Stream represents an exam stream
type Stream string

// Supported exam streams
const (
	StreamPCM Stream = "PCM"
	StreamPCB Stream = "PCB"
)

// QuestionSource identifies one of the four selection strategies
type QuestionSource string

// Question sources in priority order
const (
	SourceCurrentTopic   QuestionSource = "current_topic"
	SourceWeakConcepts   QuestionSource = "weak_concepts"
	SourceRevisionTopics QuestionSource = "revision_topics"
	SourcePYQ            QuestionSource = "pyq"
)

// Priority returns the merge priority for the source; lower wins on duplicates.
func (s QuestionSource) Priority() int {
	switch s {
	case SourceCurrentTopic:
		return 1
	case SourceWeakConcepts:
		return 2
	case SourceRevisionTopics:
		return 3
	case SourcePYQ:
		return 4
	default:
		return 5
	}
}

// AllSources returns the four question sources in priority order.
func AllSources() []QuestionSource {
	return []QuestionSource{SourceCurrentTopic, SourceWeakConcepts, SourceRevisionTopics, SourcePYQ}
}

// QuestionCategory is a tag from the fixed question taxonomy
type QuestionCategory string

// Question category taxonomy
const (
	CategoryConfidenceBased QuestionCategory = "confidence-based"
	CategoryMemoryBased     QuestionCategory = "memory-based"
	CategoryFormulaBased    QuestionCategory = "formula-based"
	CategoryTheoretical     QuestionCategory = "theoretical"
	CategoryFactual         QuestionCategory = "factual"
	CategoryConceptual      QuestionCategory = "conceptual"
	CategoryApplication     QuestionCategory = "application"
	CategoryMultiStep       QuestionCategory = "multi-step"
	CategoryCalculation     QuestionCategory = "calculation"
	CategoryHighWeightage   QuestionCategory = "high-weightage"
	CategoryTricky          QuestionCategory = "tricky"
	CategoryTrap            QuestionCategory = "trap"
	CategoryOutOfTheBox     QuestionCategory = "out-of-the-box"
)

// Difficulty levels, monotonically increasing in hardness
const (
	DifficultyEasy     = 1
	DifficultyMedium   = 2
	DifficultyHard     = 3
	DifficultyVeryHard = 4

	// NumDifficultyLevels is the number of difficulty buckets
	NumDifficultyLevels = 4
)

// TestStatusCompleted marks a test participation that counts toward grading
const TestStatusCompleted = "COMPLETED"

// Student represents a registered student
type Student struct {
	ID        int       `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Stream    Stream    `json:"stream" db:"stream"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PerformanceSummary holds a student's overall accuracy; absent for new students
type PerformanceSummary struct {
	StudentID int             `json:"student_id" db:"student_id"`
	Accuracy  sql.NullFloat64 `json:"accuracy" db:"accuracy"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// SubjectMastery is a per-subject 0-100 proficiency score
type SubjectMastery struct {
	StudentID    int     `json:"student_id" db:"student_id"`
	SubjectID    int     `json:"subject_id" db:"subject_id"`
	MasteryLevel float64 `json:"mastery_level" db:"mastery_level"`
}

// TopicMastery is a per-topic proficiency score with a secondary strength index
type TopicMastery struct {
	StudentID     int     `json:"student_id" db:"student_id"`
	SubjectID     int     `json:"subject_id" db:"subject_id"`
	TopicID       int     `json:"topic_id" db:"topic_id"`
	MasteryLevel  float64 `json:"mastery_level" db:"mastery_level"`
	StrengthIndex float64 `json:"strength_index" db:"strength_index"`
}

// CurrentStudyTopic marks a topic's position in the student's study plan.
// A topic is in progress iff IsCurrent and not IsCompleted.
type CurrentStudyTopic struct {
	StudentID   int       `json:"student_id" db:"student_id"`
	SubjectID   int       `json:"subject_id" db:"subject_id"`
	TopicID     int       `json:"topic_id" db:"topic_id"`
	IsCurrent   bool      `json:"is_current" db:"is_current"`
	IsCompleted bool      `json:"is_completed" db:"is_completed"`
	StartedAt   time.Time `json:"started_at" db:"started_at"`
}

// ReviewSchedule holds the spaced-repetition due date for a completed topic
type ReviewSchedule struct {
	StudentID    int       `json:"student_id" db:"student_id"`
	TopicID      int       `json:"topic_id" db:"topic_id"`
	NextReviewAt time.Time `json:"next_review_at" db:"next_review_at"`
}

// Attempt records that a student solved a question at a point in time
type Attempt struct {
	StudentID  int       `json:"student_id" db:"student_id"`
	QuestionID int       `json:"question_id" db:"question_id"`
	SolvedAt   time.Time `json:"solved_at" db:"solved_at"`
}

// TestParticipation records a student's result in a mock test
type TestParticipation struct {
	StudentID int          `json:"student_id" db:"student_id"`
	Status    string       `json:"status" db:"status"`
	Score     float64      `json:"score" db:"score"`
	EndTime   sql.NullTime `json:"end_time" db:"end_time"`
}

// Subject represents an exam subject within a stream
type Subject struct {
	ID     int    `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	Stream Stream `json:"stream" db:"stream"`
}

// Topic represents a syllabus topic within a subject
type Topic struct {
	ID        int    `json:"id" db:"id"`
	SubjectID int    `json:"subject_id" db:"subject_id"`
	Name      string `json:"name" db:"name"`
}

// Question represents one catalog question. Only published questions are
// selectable; PYQYear is set only for previous-year questions.
type Question struct {
	ID              int            `json:"id" db:"id"`
	SubjectID       int            `json:"subject_id" db:"subject_id"`
	TopicID         int            `json:"topic_id" db:"topic_id"`
	Difficulty      int            `json:"difficulty" db:"difficulty"`
	Categories      pq.StringArray `json:"categories" db:"categories"`
	PYQYear         sql.NullInt32  `json:"pyq_year" db:"pyq_year"`
	TimeEstimateMin sql.NullInt32  `json:"time_estimate_min" db:"time_estimate_min"`
	IsPublished     bool           `json:"is_published" db:"is_published"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
}

// HasCategory reports whether the question carries the given category tag.
func (q *Question) HasCategory(cat QuestionCategory) bool {
	for _, c := range q.Categories {
		if QuestionCategory(c) == cat {
			return true
		}
	}
	return false
}

// QuestionFilter describes a catalog query. IsPublished is always implied.
type QuestionFilter struct {
	SubjectID          int
	TopicIDs           []int
	Difficulty         int // 0 means no difficulty constraint
	Categories         []QuestionCategory
	PYQOnly            bool
	ExcludeIDs         []int
	Limit              int
	OrderByPYQYearDesc bool
}

// PracticeSession is the generated output: one timed question set per
// (student, subject) pair. The question set is immutable after creation;
// completion counters are mutated downstream.
type PracticeSession struct {
	ID             int       `json:"id" db:"id"`
	StudentID      int       `json:"student_id" db:"student_id"`
	SubjectID      int       `json:"subject_id" db:"subject_id"`
	DurationMin    int       `json:"duration_min" db:"duration_min"`
	QuestionIDs    []int     `json:"question_ids" db:"question_ids"`
	CompletedCount int       `json:"completed_count" db:"completed_count"`
	CorrectCount   int       `json:"correct_count" db:"correct_count"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
