package models

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestQuestionSource_Priority(t *testing.T) {
	assert.Equal(t, 1, SourceCurrentTopic.Priority())
	assert.Equal(t, 2, SourceWeakConcepts.Priority())
	assert.Equal(t, 3, SourceRevisionTopics.Priority())
	assert.Equal(t, 4, SourcePYQ.Priority())
	assert.Equal(t, 5, QuestionSource("bogus").Priority())
}

func TestAllSources_PriorityOrder(t *testing.T) {
	sources := AllSources()
	assert.Len(t, sources, 4)
	for i := 1; i < len(sources); i++ {
		assert.Less(t, sources[i-1].Priority(), sources[i].Priority())
	}
}

func TestQuestion_HasCategory(t *testing.T) {
	q := Question{Categories: pq.StringArray{"trap", "multi-step"}}

	assert.True(t, q.HasCategory(CategoryTrap))
	assert.True(t, q.HasCategory(CategoryMultiStep))
	assert.False(t, q.HasCategory(CategoryFactual))
}
