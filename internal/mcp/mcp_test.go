package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/smartbin/smartbin/internal/bin"
	"github.com/smartbin/smartbin/internal/config"
	"github.com/smartbin/smartbin/internal/errors"
	"github.com/smartbin/smartbin/internal/logging"
	"github.com/smartbin/smartbin/internal/store"
)

// testSetup opens a temporary store and default config.
func testSetup(t *testing.T) (*store.Store, *config.Config) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "waste_items.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	return st, config.DefaultConfig()
}

func testHandlers(t *testing.T) (*Handlers, *store.Store) {
	t.Helper()
	st, cfg := testSetup(t)
	return NewHandlers(st, cfg, logging.Discard()), st
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func seedStore(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	if _, err := st.Insert(ctx, "plastic bottle", bin.Yellow); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := st.RecordHit(ctx, "plastic bottle"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := st.Insert(ctx, "banana peel", bin.Green); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestHandleLookup(t *testing.T) {
	h, st := testHandlers(t)
	seedStore(t, st)
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		result, err := h.HandleLookup(ctx, makeRequest(map[string]any{"item_label": "  Plastic Bottle"}))
		if err != nil {
			t.Fatalf("HandleLookup error: %v", err)
		}
		var out LookupResponse
		parseInto(t, result, &out)
		if !out.Found || out.Record == nil {
			t.Fatalf("expected record, got %+v", out)
		}
		if out.Record.Color != bin.Yellow {
			t.Errorf("bin_color = %q, want yellow", out.Record.Color)
		}
		if out.Record.UsageCount != 2 {
			t.Errorf("usage_count = %d, want 2", out.Record.UsageCount)
		}
	})

	t.Run("lookup does not count as a sort", func(t *testing.T) {
		rec, err := st.Lookup(ctx, "plastic bottle")
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		if rec.UsageCount != 2 {
			t.Errorf("usage_count = %d after lookups, want 2", rec.UsageCount)
		}
	})

	t.Run("missing", func(t *testing.T) {
		result, _ := h.HandleLookup(ctx, makeRequest(map[string]any{"item_label": "glass jar"}))
		var out LookupResponse
		parseInto(t, result, &out)
		if out.Found || out.Record != nil {
			t.Errorf("expected not found, got %+v", out)
		}
	})

	t.Run("empty label", func(t *testing.T) {
		result, _ := h.HandleLookup(ctx, makeRequest(map[string]any{"item_label": " "}))
		if !result.IsError {
			t.Fatal("expected error")
		}
		assertErrorCode(t, result, "INVALID_REQUEST")
	})

	t.Run("wrong type", func(t *testing.T) {
		result, _ := h.HandleLookup(ctx, makeRequest(map[string]any{"item_label": 42}))
		assertErrorCode(t, result, "INVALID_REQUEST")
	})
}

func TestHandleStats(t *testing.T) {
	h, st := testHandlers(t)
	seedStore(t, st)
	ctx := context.Background()

	result, err := h.HandleStats(ctx, makeRequest(map[string]any{}))
	if err != nil {
		t.Fatalf("HandleStats error: %v", err)
	}
	var stats bin.Stats
	parseInto(t, result, &stats)

	if stats.TotalRecords != 2 {
		t.Errorf("total_records = %d, want 2", stats.TotalRecords)
	}
	if got := stats.PerBin[bin.Yellow]; got != (bin.BinStats{Count: 1, Usage: 2}) {
		t.Errorf("yellow = %+v, want {1 2}", got)
	}
	if got := stats.PerBin[bin.Green]; got != (bin.BinStats{Count: 1, Usage: 1}) {
		t.Errorf("green = %+v, want {1 1}", got)
	}
	if len(stats.Top) != 2 || stats.Top[0].Label != "plastic bottle" {
		t.Errorf("top = %+v", stats.Top)
	}

	result, _ = h.HandleStats(ctx, makeRequest(map[string]any{"top": 1}))
	parseInto(t, result, &stats)
	if len(stats.Top) != 1 {
		t.Errorf("top len = %d, want 1", len(stats.Top))
	}

	result, _ = h.HandleStats(ctx, makeRequest(map[string]any{"top": 1000}))
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleList(t *testing.T) {
	h, st := testHandlers(t)
	seedStore(t, st)
	ctx := context.Background()

	result, err := h.HandleList(ctx, makeRequest(map[string]any{"bin": "green"}))
	if err != nil {
		t.Fatalf("HandleList error: %v", err)
	}
	var out store.ListOutput
	parseInto(t, result, &out)
	if len(out.Items) != 1 || out.Items[0].Label != "banana peel" {
		t.Errorf("items = %+v", out.Items)
	}

	result, _ = h.HandleList(ctx, makeRequest(map[string]any{"limit": 1}))
	parseInto(t, result, &out)
	if !out.Pagination.HasMore || out.Pagination.Total != 2 {
		t.Errorf("pagination = %+v", out.Pagination)
	}

	result, _ = h.HandleList(ctx, makeRequest(map[string]any{"bin": "blue"}))
	assertErrorCode(t, result, "INVALID_BIN_COLOR")
}

func TestHandleClassify(t *testing.T) {
	h, st := testHandlers(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		args       map[string]any
		wantBin    bin.Color
		classified bool
		wantCode   string
	}{
		{"learn new item", map[string]any{"item_label": "Plastic Bottle", "bin": "YELLOW"}, bin.Yellow, true, ""},
		{"known item ignores bin", map[string]any{"item_label": "plastic bottle", "bin": "brown"}, bin.Yellow, true, ""},
		{"known item without bin", map[string]any{"item_label": "plastic bottle"}, bin.Yellow, true, ""},
		{"skip", map[string]any{"item_label": "mystery", "bin": "skip"}, "", false, ""},
		{"invalid bin", map[string]any{"item_label": "cup", "bin": "purple"}, "", false, "INVALID_OPERATOR_CHOICE"},
		{"unknown without bin", map[string]any{"item_label": "cup"}, "", false, "INVALID_REQUEST"},
		{"empty label", map[string]any{"item_label": ""}, "", false, "INVALID_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleClassify(ctx, makeRequest(tt.args))
			if err != nil {
				t.Fatalf("HandleClassify error: %v", err)
			}
			if tt.wantCode != "" {
				if !result.IsError {
					t.Fatalf("expected error %s, got %s", tt.wantCode, extractErrorMessage(result))
				}
				assertErrorCode(t, result, tt.wantCode)
				return
			}
			var out ClassifyResponse
			parseInto(t, result, &out)
			if out.Bin != tt.wantBin || out.Classified != tt.classified {
				t.Errorf("got %+v, want bin=%q classified=%v", out, tt.wantBin, tt.classified)
			}
		})
	}

	rec, err := st.Lookup(ctx, "plastic bottle")
	if err != nil || rec == nil {
		t.Fatalf("Lookup: %v %v", rec, err)
	}
	if rec.UsageCount != 3 {
		t.Errorf("usage_count = %d, want 3", rec.UsageCount)
	}
	for _, label := range []string{"mystery", "cup"} {
		if rec, _ := st.Lookup(ctx, label); rec != nil {
			t.Errorf("%q should not be learned", label)
		}
	}
}

func TestServerRegistration(t *testing.T) {
	st, cfg := testSetup(t)

	s := NewServer(st, cfg, "test", logging.Discard())
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{"bin_lookup", "bin_stats", "bin_list", "bin_classify"}
	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}
	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	st, cfg := testSetup(t)
	cfg.DisabledTools = []string{"bin_classify", "bin_list"}

	tools := NewServer(st, cfg, "test", logging.Discard()).ListTools()

	if len(tools) != 2 {
		t.Errorf("registered tool count = %d, want 2", len(tools))
	}
	for _, name := range cfg.DisabledTools {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %s should not be registered", name)
		}
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	st, cfg := testSetup(t)
	cfg.DisabledTools = AllToolNames()

	tools := NewServer(st, cfg, "test", logging.Discard()).ListTools()
	if len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0", len(tools))
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  int
	}{
		{"empty", nil, 0},
		{"all known", []string{"bin_lookup", "bin_stats"}, 0},
		{"one unknown", []string{"bin_lookup", "bin_delete"}, 1},
		{"all unknown", []string{"foo", "bar"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateDisabledTools(tt.input)
			if len(got) != tt.want {
				t.Errorf("ValidateDisabledTools(%v) = %v, want %d unknown", tt.input, got, tt.want)
			}
		})
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()
	want := []string{"bin_classify", "bin_list", "bin_lookup", "bin_stats"}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Errorf("AllToolNames() = %v, want %v", names, want)
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("sql error: open /tmp/secret.db: permission denied")))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
	if errObj["message"] != "an internal error occurred" {
		t.Errorf("message leaked: %v", errObj["message"])
	}
}

func TestErrorResult_WrappedError(t *testing.T) {
	r := errorResult(fmt.Errorf("resolve: %w", errors.NewInvalidBinColor("blue")))

	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrInvalidBinColor) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrInvalidBinColor)
	}
}

func TestErrorResult_NonInternalIncludesDetails(t *testing.T) {
	r := errorResult(errors.NewNotFound("glass jar"))

	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrNotFound) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrNotFound)
	}
	if _, ok := errObj["details"]; !ok {
		t.Fatal("expected non-INTERNAL errors to include details when present")
	}
}

// Helper functions

// parseInto unmarshals the JSON output of a successful MCP result into v.
func parseInto(t *testing.T, result *mcp.CallToolResult, v any) {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), v); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
}

func errorObject(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Fatal("no error object in payload")
	}
	return errObj
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()
	if len(result.Content) == 0 {
		t.Errorf("no content in error result")
		return
	}
	code, _ := errorObject(t, result)["code"].(string)
	if code != expectedCode {
		t.Errorf("got error code %q, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}
	return text.Text
}
