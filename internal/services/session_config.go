package services

import (
	"math"

	"prepapp/internal/models"
)

// sourcePercents is the fixed source distribution, independent of grade
var sourcePercents = map[models.QuestionSource]float64{
	models.SourceCurrentTopic:   0.40,
	models.SourceWeakConcepts:   0.20,
	models.SourceRevisionTopics: 0.30,
	models.SourcePYQ:            0.10,
}

// difficultyPercents keys the 4-bucket difficulty histogram by grade,
// ordered easy, medium, hard, very hard
var difficultyPercents = map[models.Grade][models.NumDifficultyLevels]float64{
	models.GradeD:     {0.40, 0.35, 0.20, 0.05},
	models.GradeC:     {0.35, 0.35, 0.20, 0.10},
	models.GradeB:     {0.25, 0.35, 0.25, 0.15},
	models.GradeA:     {0.20, 0.30, 0.30, 0.20},
	models.GradeAPlus: {0.15, 0.25, 0.30, 0.30},
}

// gradeCategories keys the allowed question-category set by grade. Used as an
// inclusion filter, not a ranking.
var gradeCategories = map[models.Grade][]models.QuestionCategory{
	models.GradeD: {
		models.CategoryConfidenceBased,
		models.CategoryMemoryBased,
		models.CategoryFormulaBased,
		models.CategoryTheoretical,
		models.CategoryFactual,
	},
	models.GradeC: {
		models.CategoryMemoryBased,
		models.CategoryFormulaBased,
		models.CategoryConceptual,
		models.CategoryFactual,
		models.CategoryApplication,
	},
	models.GradeB: {
		models.CategoryConceptual,
		models.CategoryApplication,
		models.CategoryMultiStep,
		models.CategoryCalculation,
		models.CategoryHighWeightage,
	},
	models.GradeA: {
		models.CategoryConceptual,
		models.CategoryMultiStep,
		models.CategoryCalculation,
		models.CategoryTricky,
		models.CategoryHighWeightage,
		models.CategoryTrap,
	},
	models.GradeAPlus: {
		models.CategoryTrap,
		models.CategoryMultiStep,
		models.CategoryOutOfTheBox,
		models.CategoryTricky,
		models.CategoryHighWeightage,
		models.CategoryCalculation,
	},
}

// SessionConfig is the derived plan for one subject's session: how many
// questions per source, how many per difficulty level, and which question
// categories are allowed for the student's grade.
type SessionConfig struct {
	Stream           models.Stream
	Grade            models.Grade
	TotalQuestions   int
	SourceCounts     map[models.QuestionSource]int
	DifficultyCounts [models.NumDifficultyLevels]int
	Categories       []models.QuestionCategory
}

// BuildSessionConfig derives the session plan for a grade and question target.
// Unknown grades use the D row (maximum support).
func BuildSessionConfig(stream models.Stream, grade models.Grade, totalQuestions int) *SessionConfig {
	if _, ok := difficultyPercents[grade]; !ok {
		grade = models.GradeD
	}

	cfg := &SessionConfig{
		Stream:         stream,
		Grade:          grade,
		TotalQuestions: totalQuestions,
		SourceCounts:   make(map[models.QuestionSource]int, len(sourcePercents)),
		Categories:     gradeCategories[grade],
	}

	// Each source percentage rounds to nearest integer independently, so the
	// four counts may not sum exactly to the total. The generator's dedupe
	// and backfill pass absorbs the drift.
	for source, pct := range sourcePercents {
		cfg.SourceCounts[source] = int(math.Round(pct * float64(totalQuestions)))
	}

	cfg.DifficultyCounts = cfg.DifficultySplit(totalQuestions)

	return cfg
}

// DifficultySplit apportions n questions across the grade's difficulty
// buckets so the four integers sum exactly to n: floor each raw share, then
// hand the remainder to the buckets with the largest fractional part, ties
// broken in bucket order easy to very hard.
func (c *SessionConfig) DifficultySplit(n int) [models.NumDifficultyLevels]int {
	percents := difficultyPercents[c.Grade]

	var counts [models.NumDifficultyLevels]int
	var fractions [models.NumDifficultyLevels]float64
	assigned := 0
	for i, pct := range percents {
		raw := pct * float64(n)
		base := int(math.Floor(raw))
		counts[i] = base
		fractions[i] = raw - float64(base)
		assigned += base
	}

	remainder := n - assigned
	for remainder > 0 {
		best := 0
		for i := 1; i < models.NumDifficultyLevels; i++ {
			if fractions[i] > fractions[best] {
				best = i
			}
		}
		counts[best]++
		fractions[best] = -1
		remainder--
	}

	return counts
}

// CategorySetForGrade returns the allowed category tags for a grade
func CategorySetForGrade(grade models.Grade) []models.QuestionCategory {
	if cats, ok := gradeCategories[grade]; ok {
		return cats
	}
	return gradeCategories[models.GradeD]
}
