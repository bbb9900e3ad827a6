package review

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeFeedbackIssuesTakePrecedence(t *testing.T) {
	comments := []Comment{
		{ID: "c1", Type: CommentIssue, Priority: PriorityMedium, Content: "fix X"},
		{ID: "c2", Type: CommentSuggestion, Priority: PriorityMedium, Content: "maybe Y"},
	}

	fb := SynthesizeFeedback(comments)
	require.NotNil(t, fb)
	assert.Equal(t, FeedbackFixIssue, fb.Type)
	assert.Contains(t, fb.Content, "fix X")
	assert.NotContains(t, fb.Content, "maybe Y")
	assert.Equal(t, []string{"c1"}, fb.SourceCommentIDs)
}

func TestSynthesizeFeedbackFilePrefixAndAffectedFiles(t *testing.T) {
	comments := []Comment{
		{ID: "c1", Type: CommentIssue, Priority: PriorityLow, Content: "unused import", FilePath: "main.go"},
		{ID: "c2", Type: CommentIssue, Priority: PriorityLow, Content: "nil check missing", FilePath: "engine.go"},
		{ID: "c3", Type: CommentIssue, Priority: PriorityLow, Content: "typo again", FilePath: "main.go"},
	}

	fb := SynthesizeFeedback(comments)
	require.NotNil(t, fb)
	assert.Equal(t, "- [main.go] unused import\n- [engine.go] nil check missing\n- [main.go] typo again", fb.Content)
	assert.Equal(t, []string{"main.go", "engine.go"}, fb.AffectedFiles)
}

func TestSynthesizeFeedbackPriority(t *testing.T) {
	t.Run("high issue raises priority", func(t *testing.T) {
		fb := SynthesizeFeedback([]Comment{
			{ID: "c1", Type: CommentIssue, Priority: PriorityLow, Content: "a"},
			{ID: "c2", Type: CommentIssue, Priority: PriorityHigh, Content: "b"},
		})
		require.NotNil(t, fb)
		assert.Equal(t, PriorityHigh, fb.Priority)
	})

	t.Run("issues default to medium", func(t *testing.T) {
		fb := SynthesizeFeedback([]Comment{
			{ID: "c1", Type: CommentIssue, Priority: PriorityLow, Content: "a"},
		})
		require.NotNil(t, fb)
		assert.Equal(t, PriorityMedium, fb.Priority)
	})

	t.Run("suggestions are fixed at low", func(t *testing.T) {
		fb := SynthesizeFeedback([]Comment{
			{ID: "c1", Type: CommentSuggestion, Priority: PriorityHigh, Content: "a"},
		})
		require.NotNil(t, fb)
		assert.Equal(t, FeedbackImprove, fb.Type)
		assert.Equal(t, PriorityLow, fb.Priority)
	})
}

func TestSynthesizeFeedbackIgnoresResolvedAndInert(t *testing.T) {
	fb := SynthesizeFeedback([]Comment{
		{ID: "c1", Type: CommentIssue, Resolved: true, Content: "already fixed"},
		{ID: "c2", Type: CommentQuestion, Content: "why?"},
		{ID: "c3", Type: CommentApproval, Content: "nice"},
	})
	assert.Nil(t, fb)
}

func TestSynthesizeFeedbackEmptyInput(t *testing.T) {
	assert.Nil(t, SynthesizeFeedback(nil))
}

func TestBudgetFeedbackHighFillsCap(t *testing.T) {
	var items []Feedback
	for i := 0; i < 5; i++ {
		items = append(items, Feedback{Content: fmt.Sprintf("high-%d", i), Priority: PriorityHigh})
	}
	for i := 0; i < 5; i++ {
		items = append(items, Feedback{Content: fmt.Sprintf("medium-%d", i), Priority: PriorityMedium})
	}

	kept := BudgetFeedback(items)
	require.Len(t, kept, 3)
	for _, fb := range kept {
		assert.Equal(t, PriorityHigh, fb.Priority)
	}
}

func TestBudgetFeedbackMediumFillsRemainder(t *testing.T) {
	items := []Feedback{
		{Content: "m1", Priority: PriorityMedium},
		{Content: "h1", Priority: PriorityHigh},
		{Content: "m2", Priority: PriorityMedium},
		{Content: "m3", Priority: PriorityMedium},
		{Content: "m4", Priority: PriorityMedium},
	}

	kept := BudgetFeedback(items)
	require.Len(t, kept, 3)
	assert.Equal(t, "h1", kept[0].Content)
	assert.Equal(t, "m1", kept[1].Content)
	assert.Equal(t, "m2", kept[2].Content)
}

func TestBudgetFeedbackDropsLow(t *testing.T) {
	kept := BudgetFeedback([]Feedback{
		{Content: "l1", Priority: PriorityLow},
		{Content: "m1", Priority: PriorityMedium},
	})
	require.Len(t, kept, 1)
	assert.Equal(t, "m1", kept[0].Content)
}

func TestBudgetFeedbackEmpty(t *testing.T) {
	assert.Empty(t, BudgetFeedback(nil))
}

func TestRenderFeedbackBlock(t *testing.T) {
	block := RenderFeedbackBlock([]Feedback{
		{Type: FeedbackFixIssue, Content: "- fix the race", AffectedFiles: []string{"engine.go"}, Priority: PriorityHigh},
		{Type: FeedbackImprove, Content: "- tidy naming", Priority: PriorityLow},
	})

	assert.Contains(t, block, "Issues that need fixing")
	assert.Contains(t, block, "- fix the race")
	assert.Contains(t, block, "Affected files: engine.go")
	assert.Contains(t, block, "Suggested improvements")
	assert.Contains(t, block, "- tidy naming")

	// Fix section comes before improvements.
	assert.Less(t, strings.Index(block, "fix the race"), strings.Index(block, "tidy naming"))
}

func TestRenderFeedbackBlockEmpty(t *testing.T) {
	assert.Equal(t, "", RenderFeedbackBlock(nil))
}
