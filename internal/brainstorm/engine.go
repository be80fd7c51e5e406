// Package brainstorm implements the idempotent brainstorm pipeline: parse the
// request, locate the task, enrich it with retrieved context, generate a
// structured report under retry, and commit it atomically with a monotonic
// version number.
package brainstorm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"sage/internal/ai"
	"sage/internal/apperrors"
	"sage/internal/documents"
	"sage/internal/logging"
	"sage/internal/retrieval"
	"sage/internal/retry"
	"sage/pkg/types"
)

// ragContextSize is how many reranked results feed the prompt.
const ragContextSize = 5

// Retriever is the slice of the hybrid retriever the engine needs.
type Retriever interface {
	Search(ctx context.Context, query string, opts retrieval.Options) (*types.SearchResults, error)
}

// flight tracks one in-progress build. Followers with the same action block
// on done and share the result.
type flight struct {
	action Action
	done   chan struct{}
	result *types.BrainstormResult
	err    error
}

// Engine builds and persists brainstorm reports. At most one build per task
// is in flight at any time.
type Engine struct {
	docs      *documents.Store
	retriever Retriever
	llm       ai.Client
	logger    logging.Logger
	retryCfg  *retry.Config
	now       func() time.Time

	mu      sync.Mutex
	flights map[string]*flight
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetryConfig overrides the LLM retry schedule. Used by tests.
func WithRetryConfig(cfg *retry.Config) Option { return func(e *Engine) { e.retryCfg = cfg } }

// WithClock overrides the report timestamp clock.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine wires the brainstorm pipeline.
func NewEngine(docs *documents.Store, retriever Retriever, llm ai.Client, logger logging.Logger, opts ...Option) *Engine {
	e := &Engine{
		docs:      docs,
		retriever: retriever,
		llm:       llm,
		logger:    logger.WithComponent("brainstorm"),
		retryCfg:  retry.Default(),
		now:       time.Now,
		flights:   make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Process parses a natural-language request, locates the task and runs the
// build.
func (e *Engine) Process(ctx context.Context, query string) (*types.BrainstormResult, error) {
	req, err := ParseRequest(query)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, req)
}

// Run resolves the request's selector and builds (or reuses) the report.
func (e *Engine) Run(ctx context.Context, req Request) (*types.BrainstormResult, error) {
	var task *types.Task
	var err error
	if req.TaskID != "" {
		task, err = e.docs.TaskByID(ctx, req.TaskID)
	} else {
		task, err = e.docs.TaskByTitle(ctx, req.Title)
	}
	if err != nil {
		return nil, err
	}

	fl, leader := e.acquire(task.ID, req.Action)
	if fl == nil {
		return nil, apperrors.Conflict(
			fmt.Sprintf("task %s has a %s build in flight", task.ID, req.Action), task.ID)
	}
	if !leader {
		select {
		case <-fl.done:
			return fl.result, fl.err
		case <-ctx.Done():
			return nil, apperrors.Wrap(apperrors.KindTimeout, ctx.Err(), "waiting for in-flight build")
		}
	}

	result, err := e.build(ctx, task, req.Action)
	fl.result, fl.err = result, err
	e.release(task.ID, fl)
	return result, err
}

// acquire registers a flight for the task. Returns (flight, true) for the
// leader, (flight, false) for a follower with the same action, and (nil, _)
// when a different action is already running.
func (e *Engine) acquire(taskID string, action Action) (*flight, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.flights[taskID]; ok {
		if existing.action == action {
			return existing, false
		}
		return nil, false
	}
	fl := &flight{action: action, done: make(chan struct{})}
	e.flights[taskID] = fl
	return fl, true
}

func (e *Engine) release(taskID string, fl *flight) {
	e.mu.Lock()
	delete(e.flights, taskID)
	e.mu.Unlock()
	close(fl.done)
}

// build runs the retrieve-generate-persist pipeline for one task.
func (e *Engine) build(ctx context.Context, task *types.Task, action Action) (*types.BrainstormResult, error) {
	// A "new" request is satisfied by an existing report without touching
	// retrieval or the model.
	if action == ActionNew {
		existing, ok, err := e.docs.ReadBrainstorm(ctx, task.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			version, err := e.docs.History().CurrentVersion(ctx, task.ID)
			if err != nil {
				return nil, err
			}
			e.logger.InfoContext(ctx, "reusing existing brainstorm", "task_id", task.ID, "version", version)
			return &types.BrainstormResult{
				Content:        existing,
				Type:           action.Type(),
				Source:         types.BrainstormExisting,
				NewlyGenerated: false,
				Version:        version,
				TaskID:         task.ID,
				TaskTitle:      task.Title,
			}, nil
		}
	}

	detail, _, err := e.docs.TaskDetail(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	ragContext, sources, retrieveErr := e.retrieve(ctx, task, detail)
	if retrieveErr != nil {
		e.logger.WarnContext(ctx, "retrieval failed, continuing without context",
			"task_id", task.ID, "error", retrieveErr)
	}

	var previous map[string]string
	if action == ActionImprove || action == ActionUpdate {
		if content, ok, err := e.docs.ReadBrainstorm(ctx, task.ID); err == nil && ok {
			previous = ParseSections(content)
		}
	}

	sections, genErr := e.generate(ctx, task, detail, action, ragContext, previous)
	if genErr != nil {
		if retrieveErr != nil {
			return nil, apperrors.Wrap(apperrors.KindProviderUnavailable, genErr,
				"brainstorm failed for %s: retrieval and generation both unavailable", task.ID)
		}
		e.logger.WarnContext(ctx, "generation failed, emitting fallback report",
			"task_id", task.ID, "error", genErr)
		sections = nil
	}

	report := &types.Brainstorm{
		TaskID:      task.ID,
		Type:        action.Type(),
		GeneratedAt: e.now().UTC(),
		Sections:    sections,
		RAGContext:  ragContext,
		Sources:     sources,
	}

	content := RenderReport(task, report, genErr == nil)
	version, err := e.docs.History().NextVersion(ctx, task.ID, string(action), contentHash(content))
	if err != nil {
		return nil, err
	}
	report.Version = version
	content = RenderReport(task, report, genErr == nil)

	if err := e.docs.WriteBrainstorm(ctx, task.ID, task.Title, content); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "brainstorm persisted",
		"task_id", task.ID, "action", string(action), "version", version, "rag_chunks", len(ragContext))

	return &types.BrainstormResult{
		Content:        content,
		Type:           report.Type,
		Source:         types.BrainstormGenerated,
		NewlyGenerated: true,
		Version:        version,
		TaskID:         task.ID,
		TaskTitle:      task.Title,
	}, nil
}

// retrieve gathers the reranked context for the prompt.
func (e *Engine) retrieve(ctx context.Context, task *types.Task, detail *types.TaskDetail) ([]string, []string, error) {
	res, err := e.retriever.Search(ctx, task.Title, retrieval.Options{
		Variants: retrieval.ExpandTask(task, detail),
		Hybrid:   true,
		K:        ragContextSize * 2,
	})
	if err != nil {
		return nil, nil, err
	}

	top := res.Results
	if len(top) > ragContextSize {
		top = top[:ragContextSize]
	}
	context := make([]string, 0, len(top))
	var sources []string
	seen := make(map[string]struct{})
	for _, r := range top {
		context = append(context, r.Body)
		src := r.Metadata.URL
		if src == "" {
			src = r.Metadata.FilePath
		}
		if src == "" {
			src = r.Metadata.DocumentID
		}
		if src == "" {
			continue
		}
		if _, dup := seen[src]; dup {
			continue
		}
		seen[src] = struct{}{}
		sources = append(sources, src)
	}
	return context, sources, nil
}

// generate runs the model under retry and parses its sections.
func (e *Engine) generate(ctx context.Context, task *types.Task, detail *types.TaskDetail, action Action, ragContext []string, previous map[string]string) (map[string]string, error) {
	user := buildPrompt(task, detail, action, ragContext, previous)

	var response string
	err := retry.Do(ctx, e.retryCfg, func(ctx context.Context) error {
		var callErr error
		response, callErr = e.llm.Complete(ctx, generationSystemPrompt, user)
		if callErr == nil && strings.TrimSpace(response) == "" {
			callErr = apperrors.New(apperrors.KindProviderUnavailable, "empty completion")
		}
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return ParseSections(response), nil
}

const generationSystemPrompt = `You are a senior engineer writing a brainstorm report for a work task.
Respond in markdown using exactly these level-2 sections, in order:
## Overview
## Key Considerations
## Potential Approaches
## Risks
## Recommendations
Be concrete and concise. Do not add other sections.`

func buildPrompt(task *types.Task, detail *types.TaskDetail, action Action, ragContext []string, previous map[string]string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", task.Description)
	}
	if task.Priority != "" {
		fmt.Fprintf(&sb, "Priority: %s\n", task.Priority)
	}
	if detail != nil {
		if detail.Objective != "" {
			fmt.Fprintf(&sb, "Objective: %s\n", detail.Objective)
		}
		for _, item := range detail.Tasks {
			fmt.Fprintf(&sb, "- Sub-task: %s\n", item)
		}
	}

	if len(ragContext) > 0 {
		sb.WriteString("\nRetrieved context:\n")
		for i, c := range ragContext {
			fmt.Fprintf(&sb, "[%d] %s\n", i+1, c)
		}
	}

	switch action {
	case ActionImprove:
		sb.WriteString("\nImprove on the previous report below. Keep what holds up, sharpen what does not.\n")
	case ActionUpdate:
		sb.WriteString("\nUpdate the previous report below with the retrieved context.\n")
	}
	if previous != nil {
		sb.WriteString("\nPrevious report sections:\n")
		for _, title := range types.BrainstormSectionOrder {
			if body, ok := previous[title]; ok && body != "" {
				fmt.Fprintf(&sb, "## %s\n%s\n", title, body)
			}
		}
	}
	return sb.String()
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:8])
}
