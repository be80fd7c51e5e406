// Package router is the session-level orchestrator: it parses each query
// into an intent, dispatches it to the owning agent and streams the response
// fragments back. Sub-agent failures become typed error fragments; the
// session always survives them.
package router

import (
	"context"

	"github.com/google/uuid"

	"sage/internal/ai"
	"sage/internal/apperrors"
	"sage/internal/brainstorm"
	"sage/internal/documents"
	"sage/internal/intent"
	"sage/internal/logging"
	"sage/internal/planner"
	"sage/internal/retrieval"
	"sage/pkg/types"
)

// Retriever is the slice of the hybrid retriever the router needs.
type Retriever interface {
	Search(ctx context.Context, query string, opts retrieval.Options) (*types.SearchResults, error)
}

// Router dispatches parsed queries to agents. One Router serves many
// sessions.
type Router struct {
	parser    *intent.Parser
	retriever Retriever
	engine    *brainstorm.Engine
	planner   *planner.Planner
	docs      *documents.Store
	llm       ai.Client
	logger    logging.Logger
	agents    map[intent.Kind]agentBinding
}

// New wires the router over its sub-agents.
func New(
	parser *intent.Parser,
	retriever Retriever,
	engine *brainstorm.Engine,
	dayPlanner *planner.Planner,
	docs *documents.Store,
	llm ai.Client,
	logger logging.Logger,
) *Router {
	return &Router{
		parser:    parser,
		retriever: retriever,
		engine:    engine,
		planner:   dayPlanner,
		docs:      docs,
		llm:       llm,
		logger:    logger.WithComponent("router"),
		agents:    buildAgents(),
	}
}

// Handle processes one query synchronously and returns the full fragment
// list. Session streaming wraps this.
func (r *Router) Handle(ctx context.Context, query string) []Fragment {
	correlation := uuid.NewString()
	ctx = logging.WithCorrelation(ctx, correlation)

	cmd, err := r.parser.Parse(ctx, query)
	if err != nil {
		return []Fragment{errorFragment(err, correlation)}
	}

	if cmd.Kind == intent.KindUnknown {
		// Input errors recover locally: ask instead of failing.
		return []Fragment{assistant("I didn't understand that. Try rephrasing, e.g. \"add task: ...\" or \"plan tomorrow\".")}
	}

	binding, ok := r.agents[cmd.Kind]
	if !ok {
		return []Fragment{errorFragment(
			apperrors.New(apperrors.KindInternal, "no agent bound to intent %s", cmd.Kind), correlation)}
	}

	r.logger.InfoContext(ctx, "dispatching query",
		"intent", string(cmd.Kind), "agent", binding.agent.Name, "tool", binding.tool.Name)

	fragments, err := binding.tool.Invoke(ctx, r, cmd)
	if err != nil {
		r.logger.WarnContext(ctx, "agent failed",
			"agent", binding.agent.Name, "error", err)
		return append(fragments, errorFragment(err, correlation))
	}
	return fragments
}

func errorFragment(err error, correlation string) Fragment {
	return Fragment{
		Type: FragmentError,
		Error: &ErrorDetail{
			Kind:          string(apperrors.KindOf(err)),
			Message:       err.Error(),
			CorrelationID: correlation,
		},
	}
}
