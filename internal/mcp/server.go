// Package mcp provides a Model Context Protocol server for Caseline.
//
// It exposes the query surface (keyword lookup, boolean search, file lookup,
// listings, case detail, stats) and the administrative operations (process a
// document, re-run resolution, resolve pending items) as MCP tools over
// stdio transport.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/caseline/caseline/internal/assign"
	"github.com/caseline/caseline/internal/pipeline"
	"github.com/caseline/caseline/internal/search"
	"github.com/caseline/caseline/internal/store"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Search   *search.Service
	Version  string
}

// dbMu serializes all MCP tool calls that touch the database.
// The mcp-go library dispatches handlers concurrently via goroutines.
// SQLite (even with WAL) supports only one writer at a time, and concurrent
// reads during writes can return stale results. A global mutex ensures
// correct ordering: processing completes before lookups see its data.
var dbMu sync.Mutex

// NewServer creates a configured MCP server with all Caseline tools.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"Caseline",
		ver,
		server.WithToolCapabilities(false),
	)

	registerKeywordLookupTool(s, cfg.Search)
	registerSearchTool(s, cfg.Search)
	registerFilesByKeywordsTool(s, cfg.Search)
	registerListDocumentsTool(s, cfg.Search)
	registerCaseLookupTool(s, cfg.Search)
	registerPendingListTool(s, cfg.Search)
	registerAssignCaseTool(s, cfg.Store)
	registerProcessDocumentTool(s, cfg.Pipeline)
	registerResolveDocumentTool(s, cfg.Pipeline)
	registerStatsTool(s, cfg.Search)
	registerRecomputeStatsTool(s, cfg.Search)

	return s
}

// ServeStdio runs the server on stdin/stdout until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

// --- Tools ---

func registerKeywordLookupTool(s *server.MCPServer, svc *search.Service) {
	tool := mcp.NewTool("keyword_lookup",
		mcp.WithDescription("Look up every occurrence of a keyword across the corpus: context, source file, segment type, and associated numeric values. Optionally expands synonyms and abbreviations."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("term",
			mcp.Required(),
			mcp.Description("The keyword to look up"),
		),
		mcp.WithBoolean("expand",
			mcp.Description("Also match synonyms and abbreviation expansions (default: false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		term, err := req.RequireString("term")
		if err != nil {
			return mcp.NewToolResultError("term is required"), nil
		}

		expand := false
		if v, err := req.RequireBool("expand"); err == nil {
			expand = v
		}

		hits, err := svc.Lookup(ctx, term, expand)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("lookup error: %v", err)), nil
		}
		return jsonResult(hits)
	})
}

func registerSearchTool(s *server.MCPServer, svc *search.Service) {
	tool := mcp.NewTool("search",
		mcp.WithDescription("Boolean keyword search over the corpus. Supports AND/OR connectives, e.g. 'nodule AND malignancy OR mass'. Query terms match through their synonym forms; results rank by relevance."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Boolean search expression"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}

		results, err := svc.Search(ctx, query)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search error: %v", err)), nil
		}
		return jsonResult(results)
	})
}

func registerFilesByKeywordsTool(s *server.MCPServer, svc *search.Service) {
	tool := mcp.NewTool("files_by_keywords",
		mcp.WithDescription("Find documents containing ALL of the given keywords, ranked by match count."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("terms",
			mcp.Required(),
			mcp.Description("Comma-separated list of required keywords"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		raw, err := req.RequireString("terms")
		if err != nil {
			return mcp.NewToolResultError("terms is required"), nil
		}
		terms := splitTerms(raw)
		if len(terms) == 0 {
			return mcp.NewToolResultError("at least one term is required"), nil
		}

		matches, err := svc.FilesByKeywords(ctx, terms)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("file lookup error: %v", err)), nil
		}
		return jsonResult(matches)
	})
}

func registerListDocumentsTool(s *server.MCPServer, svc *search.Service) {
	tool := mcp.NewTool("list_documents",
		mcp.WithDescription("List documents with filters: file extension, segment type, minimum keyword count, case presence, date range, keyword substring. Ordered by recency."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("extension", mcp.Description("Filter by file extension, e.g. 'xml'")),
		mcp.WithString("segment_type",
			mcp.Description("Require at least one segment of this type"),
			mcp.Enum("quantitative", "qualitative", "mixed"),
		),
		mcp.WithNumber("min_keywords", mcp.Description("Minimum distinct keyword count")),
		mcp.WithBoolean("has_case", mcp.Description("Filter by case presence")),
		mcp.WithString("after", mcp.Description("Created on or after (YYYY-MM-DD)")),
		mcp.WithString("before", mcp.Description("Created on or before (YYYY-MM-DD)")),
		mcp.WithString("term", mcp.Description("Keyword substring the document must contain")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default: 100)")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		var f store.DocumentFilter
		if v, err := req.RequireString("extension"); err == nil {
			f.Extension = v
		}
		if v, err := req.RequireString("segment_type"); err == nil && v != "" {
			f.SegmentType = store.SegmentType(v)
		}
		if v, err := req.RequireFloat("min_keywords"); err == nil {
			f.MinKeywords = int(v)
		}
		if v, err := req.RequireBool("has_case"); err == nil {
			f.HasCase = &v
		}
		if v, err := req.RequireString("after"); err == nil {
			f.After = v
		}
		if v, err := req.RequireString("before"); err == nil {
			f.Before = v
		}
		if v, err := req.RequireString("term"); err == nil {
			f.TermSubstr = v
		}
		if v, err := req.RequireFloat("limit"); err == nil {
			f.Limit = int(v)
		}

		docs, err := svc.ListDocuments(ctx, f)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("listing error: %v", err)), nil
		}
		return jsonResult(docs)
	})
}

func registerCaseLookupTool(s *server.MCPServer, svc *search.Service) {
	tool := mcp.NewTool("case_lookup",
		mcp.WithDescription("Look up a case by label: counters, top keywords, source files, and version history."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("label",
			mcp.Required(),
			mcp.Description("Case label, e.g. 'LIDC-IDRI-0001'"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		label, err := req.RequireString("label")
		if err != nil {
			return mcp.NewToolResultError("label is required"), nil
		}

		detail, err := svc.CaseByLabel(ctx, label)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("case lookup error: %v", err)), nil
		}
		return jsonResult(detail)
	})
}

func registerPendingListTool(s *server.MCPServer, svc *search.Service) {
	tool := mcp.NewTool("pending_list",
		mcp.WithDescription("List review-queue entries, oldest first. Filter by status or document id."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("status",
			mcp.Description("Review status filter"),
			mcp.Enum("pending", "assigned", "rejected", "merged"),
		),
		mcp.WithNumber("document_id", mcp.Description("Only entries for this document")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default: 100)")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		var f store.PendingFilter
		if v, err := req.RequireString("status"); err == nil {
			f.Status = v
		}
		if v, err := req.RequireFloat("document_id"); err == nil {
			f.DocumentID = int64(v)
		}
		if v, err := req.RequireFloat("limit"); err == nil {
			f.Limit = int(v)
		}

		items, err := svc.ListPending(ctx, f)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("pending list error: %v", err)), nil
		}
		return jsonResult(items)
	})
}

func registerAssignCaseTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("assign_case",
		mcp.WithDescription("Apply a reviewer decision to a pending item: assign it to an existing case by label, create a new case for it, or reject it."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("pending_id",
			mcp.Required(),
			mcp.Description("Review-queue entry id"),
		),
		mcp.WithString("label",
			mcp.Description("Target case label (required unless rejecting)"),
		),
		mcp.WithBoolean("create",
			mcp.Description("Create a new case with this label (default: false)"),
		),
		mcp.WithBoolean("reject",
			mcp.Description("Reject the pending item instead of assigning (default: false)"),
		),
		mcp.WithString("reviewer",
			mcp.Description("Reviewer identity recorded on the decision"),
		),
		mcp.WithString("note",
			mcp.Description("Optional reviewer note"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		idVal, err := req.RequireFloat("pending_id")
		if err != nil {
			return mcp.NewToolResultError("pending_id is required"), nil
		}
		pendingID := int64(idVal)

		reviewer := "mcp"
		if v, err := req.RequireString("reviewer"); err == nil && v != "" {
			reviewer = v
		}
		note := ""
		if v, err := req.RequireString("note"); err == nil {
			note = v
		}

		if rejectVal, err := req.RequireBool("reject"); err == nil && rejectVal {
			res, err := assign.Reject(ctx, st, pendingID, reviewer, note)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("reject error: %v", err)), nil
			}
			return jsonResult(res)
		}

		label, err := req.RequireString("label")
		if err != nil || label == "" {
			return mcp.NewToolResultError("label is required unless rejecting"), nil
		}
		createNew := false
		if v, err := req.RequireBool("create"); err == nil {
			createNew = v
		}

		res, err := assign.AssignManually(ctx, st, assign.ManualRequest{
			PendingID: pendingID,
			CaseLabel: label,
			CreateNew: createNew,
			Reviewer:  reviewer,
			Note:      note,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("assign error: %v", err)), nil
		}
		return jsonResult(res)
	})
}

func registerProcessDocumentTool(s *server.MCPServer, p *pipeline.Pipeline) {
	tool := mcp.NewTool("process_document",
		mcp.WithDescription("Run a document through the full pipeline: dedupe by content hash, classify segments, extract keywords, resolve the case identity, and auto-assign or queue for review. Segments arrive pre-parsed as JSON."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("filename",
			mcp.Required(),
			mcp.Description("Document filename"),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Raw document content, hashed for deduplication"),
		),
		mcp.WithString("segments",
			mcp.Required(),
			mcp.Description(`JSON array of segments: [{"payload":"...","position":"page:1/line:1","region":"body","numeric_ratio":0.4}]`),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		filename, err := req.RequireString("filename")
		if err != nil {
			return mcp.NewToolResultError("filename is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError("content is required"), nil
		}
		segJSON, err := req.RequireString("segments")
		if err != nil {
			return mcp.NewToolResultError("segments is required"), nil
		}

		var raw []struct {
			Payload      string  `json:"payload"`
			Position     string  `json:"position"`
			Region       string  `json:"region"`
			NumericRatio float64 `json:"numeric_ratio"`
		}
		if err := json.Unmarshal([]byte(segJSON), &raw); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid segments JSON: %v", err)), nil
		}

		in := pipeline.DocumentInput{
			Filename: filename,
			Content:  []byte(content),
		}
		for _, r := range raw {
			in.Segments = append(in.Segments, pipeline.SegmentInput{
				Payload:      r.Payload,
				Position:     r.Position,
				Region:       r.Region,
				NumericRatio: r.NumericRatio,
			})
		}

		res, err := p.Process(ctx, in)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("processing error: %v", err)), nil
		}
		return jsonResult(res)
	})
}

func registerResolveDocumentTool(s *server.MCPServer, p *pipeline.Pipeline) {
	tool := mcp.NewTool("resolve_document",
		mcp.WithDescription("Re-run case resolution for an already-processed document using its existing keyword evidence."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("document_id",
			mcp.Required(),
			mcp.Description("Document id to re-resolve"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		idVal, err := req.RequireFloat("document_id")
		if err != nil {
			return mcp.NewToolResultError("document_id is required"), nil
		}

		res, err := p.ReResolve(ctx, int64(idVal))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("resolution error: %v", err)), nil
		}
		return jsonResult(res)
	})
}

func registerStatsTool(s *server.MCPServer, svc *search.Service) {
	tool := mcp.NewTool("stats",
		mcp.WithDescription("Corpus statistics snapshot: document/segment/keyword/case/pending counts, segment-type breakdown, top keywords. Served from a short-lived cache."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := svc.Stats(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats error: %v", err)), nil
		}
		return jsonResult(stats)
	})
}

func registerRecomputeStatsTool(s *server.MCPServer, svc *search.Service) {
	tool := mcp.NewTool("recompute_stats",
		mcp.WithDescription("Rebuild the statistics snapshot from the durable tables, bypassing the cache."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := svc.RecomputeStats(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats error: %v", err)), nil
		}
		return jsonResult(stats)
	})
}

// --- Helpers ---

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func splitTerms(raw string) []string {
	var terms []string
	for _, t := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(t); trimmed != "" {
			terms = append(terms, trimmed)
		}
	}
	return terms
}
