package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/indexbridge/internal/query"
)

func (s *Server) registerSearchRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "searchIndex",
		Method:      http.MethodGet,
		Path:        "/api/v1/indexes/{name}/search",
		Summary:     "Search index",
		Description: "Runs a query-language search, or a free-text search when mode=text",
		Tags:        []string{"Search"},
	}, s.handleSearch)
}

// === DTOs ===

// SearchInput contains parameters for searching an index.
type SearchInput struct {
	Name     string `path:"name" maxLength:"64" doc:"Logical index name"`
	Query    string `query:"q" maxLength:"2000" doc:"Query (empty matches everything)"`
	Mode     string `query:"mode" enum:"query,text" default:"query" doc:"query parses the boolean syntax; text runs a free-text phrase search"`
	Category string `query:"category" maxLength:"100" doc:"Restrict results to one category"`
	Skip     int    `query:"skip" minimum:"0" doc:"Results to skip"`
	Take     int    `query:"take" minimum:"0" maximum:"1000" doc:"Page size (default 100)"`
	Sort     string `query:"sort" maxLength:"500" doc:"Comma-separated sort fields; prefix with - for descending"`
	Fields   string `query:"fields" maxLength:"500" doc:"Comma-separated stored fields to return (default all)"`
	Explain  bool   `query:"explain" doc:"Include score explanations"`
}

// SearchResponse contains one page of results.
type SearchResponse struct {
	Query  string      `json:"query" doc:"Original search query"`
	Total  uint64      `json:"total" doc:"Total matches"`
	TookMs int64       `json:"took_ms" doc:"Search duration in milliseconds"`
	Hits   []query.Hit `json:"hits" doc:"Search results"`
}

// SearchOutput wraps the search response for Huma.
type SearchOutput struct {
	Body SearchResponse
}

// === Handlers ===

func (s *Server) handleSearch(ctx context.Context, input *SearchInput) (*SearchOutput, error) {
	idx, err := s.services.Indexes.Get(input.Name)
	if err != nil {
		return nil, err
	}

	req := query.Request{
		Query:    input.Query,
		Category: input.Category,
		Skip:     input.Skip,
		Take:     input.Take,
		Sort:     splitList(input.Sort),
		Fields:   splitList(input.Fields),
		Explain:  input.Explain,
	}

	var results *query.Results
	if input.Mode == "text" {
		results, err = idx.SearchText(ctx, input.Query, req)
	} else {
		results, err = idx.Search(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	return &SearchOutput{
		Body: SearchResponse{
			Query:  input.Query,
			Total:  results.Total,
			TookMs: results.Took.Milliseconds(),
			Hits:   results.Hits,
		},
	}, nil
}

// splitList splits a comma-separated parameter, dropping blanks.
func splitList(s string) []string {
	if s == "" {
		return nil
	}

	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
