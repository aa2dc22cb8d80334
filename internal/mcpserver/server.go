// Package mcpserver exposes CacheManager's query surface over the Model
// Context Protocol, the same shape of interface an editor-integrated AI
// coding tool uses to reach a workspace index.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vsctoolbox/index/internal/cachemgr"
	"github.com/vsctoolbox/index/internal/fileindex"
	"github.com/vsctoolbox/index/pkg/version"
)

// Querier is the subset of CacheManager the server calls into. Defined
// package-local so tests can substitute a fake without importing cachemgr's
// full dependency graph.
type Querier interface {
	Search(ctx context.Context, query, scope string, limit int) ([]cachemgr.SearchHit, error)
	Get(ctx context.Context, paths []string, ensureValid bool) ([]*fileindex.FileIndex, error)
	GetNearestEmbeddings(queryVector []float32, topK int) ([]cachemgr.NearestResult, error)
}

// Server wraps an MCP server bound to one CacheManager.
type Server struct {
	mcp *mcp.Server
	cm  Querier
}

// SearchTextInput is the search_text tool's input.
type SearchTextInput struct {
	Query string `json:"query" jsonschema:"space-delimited AND query, supports * and ? glob wildcards"`
	Scope string `json:"scope,omitempty" jsonschema:"comma-separated include-glob list restricting which tracked files are searched"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of hits returned, default 50"`
}

// SearchTextOutput is the search_text tool's output.
type SearchTextOutput struct {
	Hits []SearchTextHit `json:"hits"`
}

// SearchTextHit is one matching line.
type SearchTextHit struct {
	FilePath string `json:"file_path"`
	Line     int    `json:"line"`
	Text     string `json:"text"`
}

// GetContainerInput is the get_container tool's input.
type GetContainerInput struct {
	Path string `json:"path" jsonschema:"source file path"`
	Line int    `json:"line" jsonschema:"1-based line number"`
}

// GetContainerOutput is the get_container tool's output.
type GetContainerOutput struct {
	Found     bool   `json:"found"`
	Name      string `json:"name,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Scope     string `json:"scope,omitempty"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

// NearestChunksInput is the nearest_chunks tool's input.
type NearestChunksInput struct {
	QueryEmbedding []float32 `json:"query_embedding" jsonschema:"query vector, must match the embedder's dimensionality"`
	TopK           int       `json:"top_k,omitempty" jsonschema:"number of nearest chunks to return, default 10"`
}

// NearestChunksOutput is the nearest_chunks tool's output.
type NearestChunksOutput struct {
	Chunks []NearestChunkResult `json:"chunks"`
}

// NearestChunkResult is one ranked chunk match.
type NearestChunkResult struct {
	FilePath   string  `json:"file_path"`
	StartLine  int     `json:"start_line"`
	EndLine    int     `json:"end_line"`
	Similarity float32 `json:"similarity"`
}

const (
	defaultSearchLimit = 50
	defaultTopK        = 10
)

// New builds a Server bound to cm and registers its three tools.
func New(cm Querier) *Server {
	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    "vsctoolbox-index",
			Version: version.Version,
		}, nil),
		cm: cm,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_text",
		Description: "Literal/glob AND search across the indexed workspace. Every space-separated term must match; * and ? behave as filename-style wildcards within a line.",
	}, s.handleSearchText)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_container",
		Description: "Resolve the innermost symbol (function, class, namespace, ...) enclosing a given file and line.",
	}, s.handleGetContainer)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "nearest_chunks",
		Description: "Approximate-nearest-neighbor retrieval of indexed chunks for a query embedding.",
	}, s.handleNearestChunks)
}

func (s *Server) handleSearchText(ctx context.Context, _ *mcp.CallToolRequest, input SearchTextInput) (*mcp.CallToolResult, SearchTextOutput, error) {
	if input.Query == "" {
		return nil, SearchTextOutput{}, fmt.Errorf("query must not be empty")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	hits, err := s.cm.Search(ctx, input.Query, input.Scope, limit)
	if err != nil {
		return nil, SearchTextOutput{}, err
	}

	out := SearchTextOutput{Hits: make([]SearchTextHit, len(hits))}
	for i, h := range hits {
		out.Hits[i] = SearchTextHit{FilePath: h.FilePath, Line: h.Line, Text: h.Text}
	}
	return nil, out, nil
}

func (s *Server) handleGetContainer(ctx context.Context, _ *mcp.CallToolRequest, input GetContainerInput) (*mcp.CallToolResult, GetContainerOutput, error) {
	if input.Path == "" {
		return nil, GetContainerOutput{}, fmt.Errorf("path must not be empty")
	}

	entries, err := s.cm.Get(ctx, []string{input.Path}, true)
	if err != nil {
		return nil, GetContainerOutput{}, err
	}
	if len(entries) == 0 {
		return nil, GetContainerOutput{Found: false}, nil
	}

	symbol, ok := entries[0].GetContainer(input.Line)
	if !ok {
		return nil, GetContainerOutput{Found: false}, nil
	}

	return nil, GetContainerOutput{
		Found:     true,
		Name:      symbol.Name,
		Kind:      symbol.Kind,
		Scope:     symbol.Scope,
		StartLine: symbol.StartLine,
		EndLine:   symbol.EndLine,
	}, nil
}

func (s *Server) handleNearestChunks(_ context.Context, _ *mcp.CallToolRequest, input NearestChunksInput) (*mcp.CallToolResult, NearestChunksOutput, error) {
	if len(input.QueryEmbedding) == 0 {
		return nil, NearestChunksOutput{}, fmt.Errorf("query_embedding must not be empty")
	}
	topK := input.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	results, err := s.cm.GetNearestEmbeddings(input.QueryEmbedding, topK)
	if err != nil {
		return nil, NearestChunksOutput{}, err
	}

	out := NearestChunksOutput{Chunks: make([]NearestChunkResult, len(results))}
	for i, r := range results {
		out.Chunks[i] = NearestChunkResult{
			FilePath:   r.FilePath,
			StartLine:  r.StartLine,
			EndLine:    r.EndLine,
			Similarity: r.Similarity,
		}
	}
	return nil, out, nil
}

// Serve runs the server over stdio until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && ctx.Err() == nil {
		slog.Error("mcp server stopped with error", slog.String("error", err.Error()))
	}
	return err
}
