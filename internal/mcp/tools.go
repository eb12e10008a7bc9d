package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kensaku/internal/ctxutil"
	"github.com/ashita-ai/kensaku/internal/model"
)

func (s *Server) registerTools() {
	// kensaku_retrieve — retrieve grounded context for a question.
	s.mcpServer.AddTool(
		mcplib.NewTool("kensaku_retrieve",
			mcplib.WithDescription(`Retrieve grounded context passages for a question from the knowledge base.

WHEN TO USE: BEFORE answering any question about the indexed corpus. The
engine runs multi-strategy retrieval (dense, sparse, query rewriting,
hypothetical documents) with reranking, so a single call is usually enough —
do not re-call with paraphrases of the same question.

WHAT YOU GET BACK:
- contexts: parent-level passages ranked by relevance, each with its
  document_id, content, and best child score
- metrics: retrieval iterations, warnings, and cache information

Results are filtered by your access rights; an empty contexts array means
nothing visible to you matched, not that retrieval failed.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("query",
				mcplib.Description("The question or information need, in natural language. Full sentences retrieve better than keyword fragments."),
				mcplib.Required(),
			),
			mcplib.WithNumber("top_k",
				mcplib.Description("Maximum number of context passages to return"),
				mcplib.Min(model.MinTopK),
				mcplib.Max(model.MaxTopK),
				mcplib.DefaultNumber(model.DefaultTopK),
			),
			mcplib.WithBoolean("use_cache",
				mcplib.Description("Set false to bypass the semantic cache and force fresh retrieval"),
			),
		),
		s.handleRetrieve,
	)
}

// retrieveResult is the JSON payload returned by kensaku_retrieve.
type retrieveResult struct {
	Contexts []model.Context `json:"contexts"`
	Metrics  *model.Metrics  `json:"metrics"`
}

func (s *Server) handleRetrieve(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	user, ok := ctxutil.UserFromContext(ctx)
	if !ok {
		return errorResult("unauthorized: no authenticated user"), nil
	}

	query := request.GetString("query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}

	req := model.QueryRequest{
		Text: query,
		TopK: request.GetInt("top_k", model.DefaultTopK),
	}
	if args := request.GetArguments(); args != nil {
		if _, set := args["use_cache"]; set {
			useCache := request.GetBool("use_cache", true)
			req.UseCache = &useCache
		}
	}

	contexts, metrics, err := s.engine.ExecuteWorkflow(ctx, req, user)
	if err != nil {
		s.logger.Warn("mcp retrieve failed", "error", err, "user_id", user.UserID)
		return errorResult(fmt.Sprintf("retrieval failed: %v", err)), nil
	}
	if contexts == nil {
		contexts = []model.Context{}
	}

	resultData, _ := json.MarshalIndent(retrieveResult{Contexts: contexts, Metrics: metrics}, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}
