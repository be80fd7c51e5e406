package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"sage/internal/intent"
	"sage/internal/planner"
	"sage/internal/retrieval"
)

// Tool is one capability of an agent. Invoke returns the fragments the tool
// contributes to the stream.
type Tool struct {
	Name        string
	Description string
	Invoke      func(ctx context.Context, r *Router, cmd intent.Command) ([]Fragment, error)
}

// Agent is a plain value: a name, a system prompt and the tools it may
// invoke. Dispatch is by data, not by type.
type Agent struct {
	Name         string
	SystemPrompt string
	Tools        []Tool
}

// buildAgents wires the fixed agent set. Every recognized intent maps to
// exactly one agent and tool.
func buildAgents() map[intent.Kind]agentBinding {
	rag := &Agent{
		Name:         "rag",
		SystemPrompt: "You answer questions from retrieved workspace context.",
		Tools: []Tool{
			{Name: "hybrid_search", Description: "hybrid retrieval across all collections", Invoke: invokeSearch},
		},
	}
	brainstormer := &Agent{
		Name:         "brainstormer",
		SystemPrompt: "You produce structured brainstorm reports for tasks.",
		Tools: []Tool{
			{Name: "brainstorm", Description: "build or reuse a task brainstorm", Invoke: invokeBrainstorm},
		},
	}
	dayPlanner := &Agent{
		Name:         "planner",
		SystemPrompt: "You plan a working day around meetings and priorities.",
		Tools: []Tool{
			{Name: "plan_day", Description: "build the day plan", Invoke: invokePlan},
		},
	}
	taskKeeper := &Agent{
		Name:         "tasks",
		SystemPrompt: "You maintain the task, meeting and work-log records.",
		Tools: []Tool{
			{Name: "add_task", Invoke: invokeAddTask},
			{Name: "update_task", Invoke: invokeUpdateTask},
			{Name: "remove_task", Invoke: invokeRemoveTask},
			{Name: "add_meeting", Invoke: invokeAddMeeting},
			{Name: "remove_meeting", Invoke: invokeRemoveMeeting},
			{Name: "add_log", Invoke: invokeAddLog},
			{Name: "remove_log", Invoke: invokeRemoveLog},
		},
	}
	chat := &Agent{
		Name:         "chat",
		SystemPrompt: "You are a concise, friendly assistant. No tools.",
		Tools: []Tool{
			{Name: "small_talk", Invoke: invokeSmallTalk},
		},
	}

	bind := func(a *Agent, toolName string) agentBinding {
		for i := range a.Tools {
			if a.Tools[i].Name == toolName {
				return agentBinding{agent: a, tool: &a.Tools[i]}
			}
		}
		panic("unknown tool " + toolName)
	}

	return map[intent.Kind]agentBinding{
		intent.KindSearchTasks:   bind(rag, "hybrid_search"),
		intent.KindRAGSearch:     bind(rag, "hybrid_search"),
		intent.KindBrainstorm:    bind(brainstormer, "brainstorm"),
		intent.KindPlanDay:       bind(dayPlanner, "plan_day"),
		intent.KindAddTask:       bind(taskKeeper, "add_task"),
		intent.KindUpdateTask:    bind(taskKeeper, "update_task"),
		intent.KindRemoveTask:    bind(taskKeeper, "remove_task"),
		intent.KindAddMeeting:    bind(taskKeeper, "add_meeting"),
		intent.KindRemoveMeeting: bind(taskKeeper, "remove_meeting"),
		intent.KindAddLog:        bind(taskKeeper, "add_log"),
		intent.KindRemoveLog:     bind(taskKeeper, "remove_log"),
		intent.KindSmallTalk:     bind(chat, "small_talk"),
	}
}

type agentBinding struct {
	agent *Agent
	tool  *Tool
}

func invokeSearch(ctx context.Context, r *Router, cmd intent.Command) ([]Fragment, error) {
	res, err := r.retriever.Search(ctx, cmd.Query, retrieval.Options{Hybrid: true, K: 5})
	if err != nil {
		return nil, err
	}
	if len(res.Results) == 0 {
		return []Fragment{assistant("Nothing relevant found for: " + cmd.Query)}, nil
	}

	var sb strings.Builder
	for i, hit := range res.Results {
		fmt.Fprintf(&sb, "%d. [%.3f] %s\n", i+1, hit.Score, hit.Body)
	}
	return []Fragment{
		tool("retrieval", sb.String()),
		assistant(fmt.Sprintf("Found %d relevant results.", len(res.Results))),
	}, nil
}

func invokeBrainstorm(ctx context.Context, r *Router, cmd intent.Command) ([]Fragment, error) {
	result, err := r.engine.Process(ctx, cmd.Query)
	if err != nil {
		return nil, err
	}
	status := "Reused the existing brainstorm"
	if result.NewlyGenerated {
		status = "Generated a new brainstorm"
	}
	return []Fragment{
		tool("brainstorm", result.Content),
		assistant(fmt.Sprintf("%s for %q (version %d).", status, result.TaskTitle, result.Version)),
	}, nil
}

func invokePlan(ctx context.Context, r *Router, cmd intent.Command) ([]Fragment, error) {
	result, err := r.planner.Plan(ctx, planner.Request{TargetDate: cmd.TargetDate})
	if err != nil {
		return nil, err
	}
	return []Fragment{
		tool("plan", result.YesterdayMarkdown),
		tool("plan", result.TomorrowMarkdown),
		assistant("Plan ready for " + result.Date.Format("2006-01-02") + "."),
	}, nil
}

func invokeAddTask(ctx context.Context, r *Router, cmd intent.Command) ([]Fragment, error) {
	created, err := r.docs.AddTask(ctx, *cmd.Task)
	if err != nil {
		return nil, err
	}
	return []Fragment{assistant(fmt.Sprintf("Added task %q (%s).", created.Title, created.ID))}, nil
}

func invokeUpdateTask(ctx context.Context, r *Router, cmd intent.Command) ([]Fragment, error) {
	if err := r.docs.UpdateTask(ctx, *cmd.Task); err != nil {
		return nil, err
	}
	return []Fragment{assistant(fmt.Sprintf("Updated task %s.", cmd.Task.ID))}, nil
}

func invokeRemoveTask(ctx context.Context, r *Router, cmd intent.Command) ([]Fragment, error) {
	if err := r.docs.RemoveTask(ctx, cmd.TaskID); err != nil {
		return nil, err
	}
	return []Fragment{assistant("Removed task " + cmd.TaskID + ".")}, nil
}

func invokeAddMeeting(ctx context.Context, r *Router, cmd intent.Command) ([]Fragment, error) {
	meeting := *cmd.Meeting
	if meeting.ID == "" {
		meeting.ID = newMeetingID()
	}
	if err := r.docs.AddMeeting(ctx, meeting); err != nil {
		return nil, err
	}
	return []Fragment{assistant(fmt.Sprintf("Added meeting %q on %s.", meeting.Title, meeting.Start.Format("2006-01-02 15:04")))}, nil
}

func invokeRemoveMeeting(ctx context.Context, r *Router, cmd intent.Command) ([]Fragment, error) {
	if err := r.docs.RemoveMeeting(ctx, cmd.MeetingID); err != nil {
		return nil, err
	}
	return []Fragment{assistant("Removed meeting " + cmd.MeetingID + ".")}, nil
}

func invokeAddLog(ctx context.Context, r *Router, cmd intent.Command) ([]Fragment, error) {
	entry, err := r.docs.AppendWorkLog(ctx, *cmd.Log)
	if err != nil {
		return nil, err
	}
	return []Fragment{assistant(fmt.Sprintf("Logged %.1fh on %s.", entry.ActualHours, entry.Date))}, nil
}

func invokeRemoveLog(ctx context.Context, r *Router, cmd intent.Command) ([]Fragment, error) {
	if err := r.docs.RemoveWorkLog(ctx, cmd.LogID); err != nil {
		return nil, err
	}
	return []Fragment{assistant("Removed work log " + cmd.LogID + ".")}, nil
}

func invokeSmallTalk(ctx context.Context, r *Router, cmd intent.Command) ([]Fragment, error) {
	reply, err := r.llm.Complete(ctx, "You are a concise, friendly assistant.", cmd.Query)
	if err != nil {
		return nil, err
	}
	return []Fragment{assistant(reply)}, nil
}

func newMeetingID() string { return uuid.NewString() }
