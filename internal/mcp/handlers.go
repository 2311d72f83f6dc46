package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"

	"github.com/smartbin/smartbin/internal/bin"
	"github.com/smartbin/smartbin/internal/config"
	"github.com/smartbin/smartbin/internal/errors"
	"github.com/smartbin/smartbin/internal/resolve"
	"github.com/smartbin/smartbin/internal/store"
)

// maxTopN bounds the ranking requested by bin_stats.
const maxTopN = 100

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	store *store.Store
	cfg   *config.Config
	log   logrus.FieldLogger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(st *store.Store, cfg *config.Config, log logrus.FieldLogger) *Handlers {
	return &Handlers{store: st, cfg: cfg, log: log}
}

// LookupRequest represents the arguments for bin_lookup.
type LookupRequest struct {
	Label string `json:"item_label"`
}

// StatsRequest represents the arguments for bin_stats.
type StatsRequest struct {
	Top *int `json:"top,omitempty"`
}

// ListRequest represents the arguments for bin_list.
type ListRequest struct {
	Bin    string `json:"bin,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// ClassifyRequest represents the arguments for bin_classify.
type ClassifyRequest struct {
	Label string `json:"item_label"`
	Bin   string `json:"bin,omitempty"`
}

// LookupResponse is returned by bin_lookup.
type LookupResponse struct {
	Found  bool        `json:"found"`
	Record *bin.Record `json:"record,omitempty"`
}

// ClassifyResponse is returned by bin_classify.
type ClassifyResponse struct {
	Label      string    `json:"item_label"`
	Bin        bin.Color `json:"bin_color,omitempty"`
	Classified bool      `json:"classified"`
}

// HandleLookup handles the bin_lookup tool.
func (h *Handlers) HandleLookup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[LookupRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if bin.Normalize(r.Label) == "" {
		return errorResult(errors.NewInvalidRequest("item_label is required")), nil
	}

	rec, err := h.store.Lookup(ctx, r.Label)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(LookupResponse{Found: rec != nil, Record: rec})
}

// HandleStats handles the bin_stats tool.
func (h *Handlers) HandleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[StatsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	top := h.cfg.StatsTopN
	if r.Top != nil {
		if *r.Top < 0 || *r.Top > maxTopN {
			return errorResult(errors.NewInvalidRequest("top must be between 0 and 100")), nil
		}
		top = *r.Top
	}

	stats, err := h.store.Stats(ctx, top)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(stats)
}

// HandleList handles the bin_list tool.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	out, err := h.store.List(ctx, store.ListInput{
		Bin:    r.Bin,
		Limit:  r.Limit,
		Offset: r.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleClassify handles the bin_classify tool.
func (h *Handlers) HandleClassify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[ClassifyRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	var operator resolve.Operator
	if r.Bin != "" {
		operator = resolve.NewAnswer(r.Bin)
	}
	policy := resolve.NewPolicy(h.store, operator, resolve.WithLogger(h.log))

	color, ok, err := policy.Resolve(ctx, r.Label)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(ClassifyResponse{
		Label:      bin.Normalize(r.Label),
		Bin:        color,
		Classified: ok,
	})
}

// errorResult creates an MCP error result from any error.
// Details are omitted for internal errors so paths and SQL never leak.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if sErr, ok := errors.As(err); ok && sErr.Code != errors.ErrInternal {
		errorObj := map[string]any{
			"code":    sErr.Code,
			"message": sErr.Message,
			"status":  sErr.Status,
		}
		if sErr.Details != nil {
			errorObj["details"] = sErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result with JSON data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
