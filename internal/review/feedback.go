package review

import (
	"fmt"
	"strings"
)

// maxFeedbackItems caps how many feedback items carry over into a retry.
// Unbounded accumulation across revision cycles degrades backend output.
const maxFeedbackItems = 3

// SynthesizeFeedback derives a single Feedback from the unresolved comments
// of a review. Issues strictly take precedence over suggestions; the two
// are never merged. Questions and approvals produce nothing. The function
// is pure and cannot fail: no unresolved actionable comments yields nil.
func SynthesizeFeedback(comments []Comment) *Feedback {
	var issues, suggestions []Comment
	for _, c := range comments {
		if c.Resolved {
			continue
		}
		switch c.Type {
		case CommentIssue:
			issues = append(issues, c)
		case CommentSuggestion:
			suggestions = append(suggestions, c)
		}
	}

	if len(issues) > 0 {
		fb := buildFeedback(FeedbackFixIssue, issues)
		fb.Priority = PriorityMedium
		for _, c := range issues {
			if c.Priority == PriorityHigh {
				fb.Priority = PriorityHigh
				break
			}
		}
		return fb
	}

	if len(suggestions) > 0 {
		fb := buildFeedback(FeedbackImprove, suggestions)
		fb.Priority = PriorityLow
		return fb
	}

	return nil
}

func buildFeedback(fbType FeedbackType, comments []Comment) *Feedback {
	var lines []string
	var files []string
	seen := make(map[string]bool)
	ids := make([]string, 0, len(comments))

	for _, c := range comments {
		line := c.Content
		if c.FilePath != "" {
			line = fmt.Sprintf("[%s] %s", c.FilePath, c.Content)
			if !seen[c.FilePath] {
				seen[c.FilePath] = true
				files = append(files, c.FilePath)
			}
		}
		lines = append(lines, "- "+line)
		ids = append(ids, c.ID)
	}

	return &Feedback{
		Type:             fbType,
		Content:          strings.Join(lines, "\n"),
		AffectedFiles:    files,
		SourceCommentIDs: ids,
	}
}

// BudgetFeedback filters feedback for the next run: low-priority items are
// dropped, and at most maxFeedbackItems survive, high priority first, then
// medium in original order.
func BudgetFeedback(items []Feedback) []Feedback {
	var high, medium []Feedback
	for _, fb := range items {
		switch fb.Priority {
		case PriorityHigh:
			high = append(high, fb)
		case PriorityMedium:
			medium = append(medium, fb)
		}
	}

	kept := high
	if len(kept) > maxFeedbackItems {
		kept = kept[:maxFeedbackItems]
	}
	for _, fb := range medium {
		if len(kept) >= maxFeedbackItems {
			break
		}
		kept = append(kept, fb)
	}
	return kept
}

var feedbackSections = []struct {
	fbType  FeedbackType
	heading string
}{
	{FeedbackFixIssue, "Issues that need fixing"},
	{FeedbackImprove, "Suggested improvements"},
	{FeedbackRetry, "Retry instructions"},
	{FeedbackChangeApproach, "Approach changes"},
}

// RenderFeedbackBlock renders feedback items as a prompt block the backend
// consumes. The block is prepended to the original task description, never
// substituted for it.
func RenderFeedbackBlock(items []Feedback) string {
	if len(items) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Reviewer feedback on your previous attempt\n\n")

	for _, section := range feedbackSections {
		var matched []Feedback
		for _, fb := range items {
			if fb.Type == section.fbType {
				matched = append(matched, fb)
			}
		}
		if len(matched) == 0 {
			continue
		}
		b.WriteString("### " + section.heading + "\n\n")
		for _, fb := range matched {
			b.WriteString(fb.Content)
			b.WriteString("\n")
			if len(fb.AffectedFiles) > 0 {
				b.WriteString("Affected files: " + strings.Join(fb.AffectedFiles, ", ") + "\n")
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("Address each point above explicitly. For every item, either apply the revision or explain why you disagree.")
	return b.String()
}
