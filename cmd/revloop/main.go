package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
)

var (
	app    = kingpin.New("revloop", "Task orchestration for AI coding agents")
	server = app.Flag("server", "Server base URL").Default("http://localhost:3200").Envar("REVLOOP_SERVER").String()
	apiKey = app.Flag("api-key", "API key").Envar("REVLOOP_API_KEY").String()

	// Task commands
	taskCmd = app.Command("task", "Task management")

	taskCreateCmd      = taskCmd.Command("create", "Create a new task")
	taskCreateTitle    = taskCreateCmd.Arg("title", "Task title").Required().String()
	taskCreateDesc     = taskCreateCmd.Flag("description", "Task description").Short('d').String()
	taskCreateKind     = taskCreateCmd.Flag("kind", "Task kind (chat, refactor, analyze, generate, debug, test)").Default("chat").String()
	taskCreatePriority = taskCreateCmd.Flag("priority", "Priority (low, medium, high)").Default("medium").String()
	taskCreateRunner   = taskCreateCmd.Flag("runner", "Runner ID").Default("claude-code").String()
	taskCreateStart    = taskCreateCmd.Flag("start", "Start the task immediately").Bool()

	taskListCmd    = taskCmd.Command("list", "List tasks")
	taskListStatus = taskListCmd.Flag("status", "Filter by status").String()

	taskShowCmd = taskCmd.Command("show", "Show task details")
	taskShowID  = taskShowCmd.Arg("id", "Task ID").Required().String()

	taskStartCmd = taskCmd.Command("start", "Start a task")
	taskStartID  = taskStartCmd.Arg("id", "Task ID").Required().String()

	taskCancelCmd = taskCmd.Command("cancel", "Cancel a task")
	taskCancelID  = taskCancelCmd.Arg("id", "Task ID").Required().String()

	taskCompleteCmd = taskCmd.Command("complete", "Mark a task completed")
	taskCompleteID  = taskCompleteCmd.Arg("id", "Task ID").Required().String()

	taskRetryCmd    = taskCmd.Command("retry", "Retry a task from review feedback")
	taskRetryID     = taskRetryCmd.Arg("id", "Task ID").Required().String()
	taskRetryReview = taskRetryCmd.Arg("review-id", "Review to retry from").Required().String()

	taskDeleteCmd = taskCmd.Command("delete", "Delete a task and its runs")
	taskDeleteID  = taskDeleteCmd.Arg("id", "Task ID").Required().String()

	// Run commands
	runCmd = app.Command("run", "Run inspection")

	runShowCmd = runCmd.Command("show", "Show run details")
	runShowID  = runShowCmd.Arg("id", "Run ID").Required().String()

	runSnapshotCmd = runCmd.Command("snapshot", "Show the snapshot of a completed run")
	runSnapshotID  = runSnapshotCmd.Arg("id", "Run ID").Required().String()

	runWatchCmd = runCmd.Command("watch", "Stream run events live")
	runWatchID  = runWatchCmd.Arg("id", "Run ID").Required().String()

	runAbortCmd = runCmd.Command("abort", "Abort a running run")
	runAbortID  = runAbortCmd.Arg("id", "Run ID").Required().String()

	// Review commands
	reviewCmd = app.Command("review", "Review workflow")

	reviewShowCmd = reviewCmd.Command("show", "Show review details")
	reviewShowID  = reviewShowCmd.Arg("id", "Review ID").Required().String()

	reviewListCmd  = reviewCmd.Command("list", "List reviews")
	reviewListTask = reviewListCmd.Flag("task", "Filter by task ID").String()

	reviewCommentCmd      = reviewCmd.Command("comment", "Add a comment to a review")
	reviewCommentID       = reviewCommentCmd.Arg("id", "Review ID").Required().String()
	reviewCommentContent  = reviewCommentCmd.Arg("content", "Comment text").Required().String()
	reviewCommentType     = reviewCommentCmd.Flag("type", "Comment type (issue, suggestion, question, approval)").Default("issue").String()
	reviewCommentPriority = reviewCommentCmd.Flag("priority", "Priority (low, medium, high)").Default("medium").String()
	reviewCommentFile     = reviewCommentCmd.Flag("file", "File path the comment refers to").String()

	reviewApproveCmd    = reviewCmd.Command("approve", "Approve a review")
	reviewApproveID     = reviewApproveCmd.Arg("id", "Review ID").Required().String()
	reviewApproveRating = reviewApproveCmd.Flag("rating", "Rating 1-5").Int()
	reviewApproveNotes  = reviewApproveCmd.Flag("notes", "Decision notes").String()

	reviewReviseCmd    = reviewCmd.Command("request-revision", "Request a revision with synthesized feedback")
	reviewReviseID     = reviewReviseCmd.Arg("id", "Review ID").Required().String()
	reviewReviseRating = reviewReviseCmd.Flag("rating", "Rating 1-5").Int()
	reviewReviseNotes  = reviewReviseCmd.Flag("notes", "Decision notes").String()

	reviewRejectCmd   = reviewCmd.Command("reject", "Reject a review")
	reviewRejectID    = reviewRejectCmd.Arg("id", "Review ID").Required().String()
	reviewRejectNotes = reviewRejectCmd.Flag("notes", "Decision notes").String()

	// Runner commands
	runnerCmd     = app.Command("runner", "Runner management")
	runnerListCmd = runnerCmd.Command("list", "List registered runners")
	runnerListAll = runnerListCmd.Flag("all", "Include unavailable runners").Bool()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := newAPIClient(*server, *apiKey)

	var err error
	switch command {
	case taskCreateCmd.FullCommand():
		err = createTask(ctx, client)
	case taskListCmd.FullCommand():
		err = listTasks(ctx, client)
	case taskShowCmd.FullCommand():
		err = showTask(ctx, client)
	case taskStartCmd.FullCommand():
		err = taskAction(ctx, client, *taskStartID, "start")
	case taskCancelCmd.FullCommand():
		err = taskAction(ctx, client, *taskCancelID, "cancel")
	case taskCompleteCmd.FullCommand():
		err = taskAction(ctx, client, *taskCompleteID, "complete")
	case taskRetryCmd.FullCommand():
		err = retryTask(ctx, client)
	case taskDeleteCmd.FullCommand():
		err = client.delete(ctx, "/tasks/"+*taskDeleteID)
	case runShowCmd.FullCommand():
		err = showRun(ctx, client)
	case runSnapshotCmd.FullCommand():
		err = showSnapshot(ctx, client)
	case runWatchCmd.FullCommand():
		err = watchRun(ctx, client)
	case runAbortCmd.FullCommand():
		err = client.post(ctx, "/runs/"+*runAbortID+"/abort", nil, nil)
	case reviewShowCmd.FullCommand():
		err = showReview(ctx, client)
	case reviewListCmd.FullCommand():
		err = listReviews(ctx, client)
	case reviewCommentCmd.FullCommand():
		err = addComment(ctx, client)
	case reviewApproveCmd.FullCommand():
		err = submitDecision(ctx, client, *reviewApproveID, decisionBody{Approved: true, Rating: *reviewApproveRating, Notes: *reviewApproveNotes})
	case reviewReviseCmd.FullCommand():
		err = submitDecision(ctx, client, *reviewReviseID, decisionBody{NeedsRevision: true, GenerateFeedback: true, Rating: *reviewReviseRating, Notes: *reviewReviseNotes})
	case reviewRejectCmd.FullCommand():
		err = submitDecision(ctx, client, *reviewRejectID, decisionBody{Notes: *reviewRejectNotes})
	case runnerListCmd.FullCommand():
		err = listRunners(ctx, client)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type taskView struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Kind        string   `json:"kind"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	RunnerID    string   `json:"runnerId"`
	RunIDs      []string `json:"runIds"`
	ActiveRunID string   `json:"activeRunId"`
	Error       string   `json:"error"`
	CreatedAt   string   `json:"createdAt"`
}

var statusColors = map[string]*color.Color{
	"draft":          color.New(color.FgWhite),
	"pending":        color.New(color.FgYellow),
	"running":        color.New(color.FgCyan),
	"waiting_review": color.New(color.FgMagenta),
	"in_progress":    color.New(color.FgCyan),
	"needs_revision": color.New(color.FgYellow),
	"approved":       color.New(color.FgGreen),
	"completed":      color.New(color.FgGreen),
	"failed":         color.New(color.FgRed),
	"rejected":       color.New(color.FgRed),
	"cancelled":      color.New(color.FgHiBlack),
}

func colorStatus(status string) string {
	if c, ok := statusColors[status]; ok {
		return c.Sprint(status)
	}
	return status
}

func createTask(ctx context.Context, client *apiClient) error {
	var t taskView
	err := client.post(ctx, "/tasks", map[string]any{
		"title":       *taskCreateTitle,
		"description": *taskCreateDesc,
		"kind":        *taskCreateKind,
		"priority":    *taskCreatePriority,
		"runnerId":    *taskCreateRunner,
	}, &t)
	if err != nil {
		return err
	}
	fmt.Printf("Created task %s\n", color.New(color.Bold).Sprint(t.ID))
	if *taskCreateStart {
		return taskAction(ctx, client, t.ID, "start")
	}
	return nil
}

func listTasks(ctx context.Context, client *apiClient) error {
	path := "/tasks"
	if *taskListStatus != "" {
		path += "?status=" + *taskListStatus
	}
	var resp struct {
		Tasks []taskView `json:"tasks"`
		Total int        `json:"total"`
	}
	if err := client.get(ctx, path, &resp); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tRUNS\tTITLE")
	for _, t := range resp.Tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", t.ID, colorStatus(t.Status), t.Priority, len(t.RunIDs), t.Title)
	}
	return w.Flush()
}

func showTask(ctx context.Context, client *apiClient) error {
	var t taskView
	if err := client.get(ctx, "/tasks/"+*taskShowID, &t); err != nil {
		return err
	}

	bold := color.New(color.Bold)
	fmt.Printf("%s %s\n", bold.Sprint(t.Title), colorStatus(t.Status))
	fmt.Printf("  ID:       %s\n", t.ID)
	fmt.Printf("  Kind:     %s\n", t.Kind)
	fmt.Printf("  Priority: %s\n", t.Priority)
	fmt.Printf("  Runner:   %s\n", t.RunnerID)
	if t.Description != "" {
		fmt.Printf("  Description: %s\n", t.Description)
	}
	if t.ActiveRunID != "" {
		fmt.Printf("  Active run: %s\n", t.ActiveRunID)
	}
	if len(t.RunIDs) > 0 {
		fmt.Printf("  Runs: %s\n", strings.Join(t.RunIDs, ", "))
	}
	if t.Error != "" {
		fmt.Printf("  Error: %s\n", color.RedString(t.Error))
	}
	return nil
}

func taskAction(ctx context.Context, client *apiClient, id, action string) error {
	var t taskView
	if err := client.post(ctx, "/tasks/"+id+"/"+action, nil, &t); err != nil {
		return err
	}
	fmt.Printf("Task %s is now %s\n", t.ID, colorStatus(t.Status))
	return nil
}

func retryTask(ctx context.Context, client *apiClient) error {
	var t taskView
	err := client.post(ctx, "/tasks/"+*taskRetryID+"/retry", map[string]string{"reviewId": *taskRetryReview}, &t)
	if err != nil {
		return err
	}
	fmt.Printf("Task %s is now %s (run %s)\n", t.ID, colorStatus(t.Status), t.ActiveRunID)
	return nil
}

type runView struct {
	ID         string `json:"id"`
	TaskID     string `json:"taskId"`
	Sequence   int    `json:"sequence"`
	RunnerID   string `json:"runnerId"`
	Status     string `json:"status"`
	Error      string `json:"error"`
	SessionID  string `json:"sessionId"`
	StartedAt  string `json:"startedAt"`
	FinishedAt string `json:"finishedAt"`
}

func showRun(ctx context.Context, client *apiClient) error {
	var r runView
	if err := client.get(ctx, "/runs/"+*runShowID, &r); err != nil {
		return err
	}
	fmt.Printf("Run %s (attempt %d of task %s) %s\n", r.ID, r.Sequence, r.TaskID, colorStatus(r.Status))
	fmt.Printf("  Runner:  %s\n", r.RunnerID)
	if r.SessionID != "" {
		fmt.Printf("  Session: %s\n", r.SessionID)
	}
	if r.Error != "" {
		fmt.Printf("  Error: %s\n", color.RedString(r.Error))
	}
	return nil
}

func showSnapshot(ctx context.Context, client *apiClient) error {
	var snap struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		ToolCalls []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"toolCalls"`
		FileChanges []struct {
			Path string `json:"path"`
			Type string `json:"type"`
		} `json:"fileChanges"`
		TokenUsage struct {
			TotalTokens int `json:"totalTokens"`
		} `json:"tokenUsage"`
		DurationMs int64 `json:"durationMs"`
	}
	if err := client.get(ctx, "/runs/"+*runSnapshotID+"/snapshot", &snap); err != nil {
		return err
	}

	bold := color.New(color.Bold)
	for _, m := range snap.Messages {
		fmt.Printf("%s %s\n", bold.Sprintf("[%s]", m.Role), m.Content)
	}
	if len(snap.ToolCalls) > 0 {
		fmt.Println(bold.Sprint("\nTool calls:"))
		for _, tc := range snap.ToolCalls {
			fmt.Printf("  %s (%s)\n", tc.Name, colorStatus(tc.Status))
		}
	}
	if len(snap.FileChanges) > 0 {
		fmt.Println(bold.Sprint("\nFile changes:"))
		for _, fc := range snap.FileChanges {
			fmt.Printf("  %s %s\n", fc.Type, fc.Path)
		}
	}
	fmt.Printf("\nTokens: %d, duration: %s\n", snap.TokenUsage.TotalTokens, time.Duration(snap.DurationMs)*time.Millisecond)
	return nil
}

func watchRun(ctx context.Context, client *apiClient) error {
	return client.stream(ctx, "/runs/"+*runWatchID+"/stream", func(data []byte) error {
		var ev struct {
			Type    string `json:"type"`
			Content string `json:"content"`
			IsDelta bool   `json:"isDelta"`
			Tool    string `json:"tool"`
			Success bool   `json:"success"`
			Error   string `json:"error"`
			Reason  string `json:"reason"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		bold := color.New(color.Bold)
		switch ev.Type {
		case "token":
			fmt.Print(ev.Content)
		case "user_message":
			fmt.Printf("%s %s\n", bold.Sprint("[user]"), ev.Content)
		case "assistant_message":
			if ev.IsDelta {
				fmt.Print(ev.Content)
				return nil
			}
			fmt.Printf("%s %s\n", bold.Sprint("[assistant]"), ev.Content)
		case "tool_call_start":
			fmt.Printf("%s %s\n", color.CyanString("tool:"), ev.Tool)
		case "tool_call_end":
			mark := color.GreenString("ok")
			if !ev.Success {
				mark = color.RedString("failed")
			}
			fmt.Printf("%s %s\n", mark, ev.Tool)
		case "error":
			fmt.Printf("%s %s\n", color.RedString("error:"), ev.Error)
		case "session_end":
			fmt.Printf("%s (%s)\n", bold.Sprint("session ended"), ev.Reason)
		}
		return nil
	})
}

type reviewView struct {
	ID       string `json:"id"`
	RunID    string `json:"runId"`
	TaskID   string `json:"taskId"`
	Status   string `json:"status"`
	Comments []struct {
		ID       string `json:"id"`
		FilePath string `json:"filePath"`
		Content  string `json:"content"`
		Type     string `json:"type"`
		Priority string `json:"priority"`
		Resolved bool   `json:"resolved"`
	} `json:"comments"`
	Feedback *struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	} `json:"feedback"`
}

func showReview(ctx context.Context, client *apiClient) error {
	var rv reviewView
	if err := client.get(ctx, "/reviews/"+*reviewShowID, &rv); err != nil {
		return err
	}

	fmt.Printf("Review %s of run %s %s\n", rv.ID, rv.RunID, colorStatus(rv.Status))
	for _, c := range rv.Comments {
		mark := " "
		if c.Resolved {
			mark = color.GreenString("✓")
		}
		loc := ""
		if c.FilePath != "" {
			loc = " [" + c.FilePath + "]"
		}
		fmt.Printf("  %s %s/%s%s %s (%s)\n", mark, c.Type, c.Priority, loc, c.Content, c.ID)
	}
	if rv.Feedback != nil {
		fmt.Printf("\nFeedback (%s):\n%s\n", rv.Feedback.Type, rv.Feedback.Content)
	}
	return nil
}

func listReviews(ctx context.Context, client *apiClient) error {
	path := "/reviews"
	if *reviewListTask != "" {
		path += "?taskId=" + *reviewListTask
	}
	var resp struct {
		Reviews []reviewView `json:"reviews"`
	}
	if err := client.get(ctx, path, &resp); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tRUN\tTASK\tCOMMENTS")
	for _, rv := range resp.Reviews {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", rv.ID, colorStatus(rv.Status), rv.RunID, rv.TaskID, len(rv.Comments))
	}
	return w.Flush()
}

func addComment(ctx context.Context, client *apiClient) error {
	var c struct {
		ID string `json:"id"`
	}
	err := client.post(ctx, "/reviews/"+*reviewCommentID+"/comments", map[string]any{
		"content":  *reviewCommentContent,
		"type":     *reviewCommentType,
		"priority": *reviewCommentPriority,
		"filePath": *reviewCommentFile,
	}, &c)
	if err != nil {
		return err
	}
	fmt.Printf("Added comment %s\n", c.ID)
	return nil
}

type decisionBody struct {
	Approved         bool   `json:"approved"`
	NeedsRevision    bool   `json:"needsRevision"`
	Rating           int    `json:"rating,omitempty"`
	Notes            string `json:"notes,omitempty"`
	GenerateFeedback bool   `json:"generateFeedback"`
}

func submitDecision(ctx context.Context, client *apiClient, id string, body decisionBody) error {
	var rv reviewView
	if err := client.post(ctx, "/reviews/"+id+"/decision", body, &rv); err != nil {
		return err
	}
	fmt.Printf("Review %s is now %s\n", rv.ID, colorStatus(rv.Status))
	return nil
}

func listRunners(ctx context.Context, client *apiClient) error {
	path := "/runners/available"
	if *runnerListAll {
		path = "/runners"
	}
	var resp struct {
		Runners []struct {
			ID           string `json:"id"`
			Name         string `json:"name"`
			Capabilities struct {
				TaskKinds []string `json:"taskKinds"`
				Streaming bool     `json:"streaming"`
				Abortable bool     `json:"abortable"`
			} `json:"capabilities"`
		} `json:"runners"`
	}
	if err := client.get(ctx, path, &resp); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tKINDS\tSTREAMING\tABORTABLE")
	for _, rn := range resp.Runners {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\n", rn.ID, rn.Name, strings.Join(rn.Capabilities.TaskKinds, ","), rn.Capabilities.Streaming, rn.Capabilities.Abortable)
	}
	return w.Flush()
}
