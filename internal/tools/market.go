package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/tools/duckduckgo"
)

// Searcher runs a web query and returns a text digest of the hits.
type Searcher interface {
	Call(ctx context.Context, input string) (string, error)
}

// MarketSearchTool looks up comparable sales and market data on the web.
type MarketSearchTool struct {
	client Searcher
}

// NewMarketSearchTool searches DuckDuckGo, returning up to maxResults hits.
func NewMarketSearchTool(maxResults int) (*MarketSearchTool, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	ddg, err := duckduckgo.New(maxResults, duckduckgo.DefaultUserAgent)
	if err != nil {
		return nil, err
	}
	return &MarketSearchTool{client: ddg}, nil
}

// NewMarketSearchToolWith uses s for the lookups.
func NewMarketSearchToolWith(s Searcher) *MarketSearchTool {
	return &MarketSearchTool{client: s}
}

func (s *MarketSearchTool) Name() string   { return "market_search" }
func (s *MarketSearchTool) ReadOnly() bool { return true }

func (s *MarketSearchTool) Description() string {
	return "Search the web for comparable sales, rents or market data for an area. Results are leads for the operator, never figures to record on their own."
}

func (s *MarketSearchTool) Parameters() Schema {
	return Schema{Fields: []Field{
		{Name: "query", Type: TypeString, Description: "What to look up, e.g. \"3 bed sold prices Elm St Springfield\".", Required: true},
	}}
}

func (s *MarketSearchTool) Execute(ctx context.Context, args Args) (Result, error) {
	query := args.String("query")
	if query == "" {
		return Result{}, &ValidationError{Tool: s.Name(), Field: "query", Message: "must not be empty"}
	}
	res, err := s.client.Call(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("search failed: %w", err)
	}

	var items []any
	for _, block := range strings.Split(res, "\n\n") {
		if block = strings.TrimSpace(block); block != "" {
			items = append(items, block)
		}
	}
	return Result{OK: true, Data: map[string]any{"query": query}, Items: items}, nil
}
