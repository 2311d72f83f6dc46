package web

import (
	"context"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartbin/smartbin/internal/bin"
	"github.com/smartbin/smartbin/internal/errors"
	"github.com/smartbin/smartbin/internal/report"
	"github.com/smartbin/smartbin/internal/store"
)

// maxTopN bounds the ranking requested through ?top=.
const maxTopN = 100

// Reader is the read-only view of the classification store served over HTTP.
type Reader interface {
	Stats(ctx context.Context, topN int) (*bin.Stats, error)
	List(ctx context.Context, input store.ListInput) (*store.ListOutput, error)
}

// Handlers contains HTTP route handlers for the dashboard.
type Handlers struct {
	store    Reader
	renderer *Renderer
	log      logrus.FieldLogger
	topN     int
	now      func() time.Time
}

// HandleStats renders the statistics report at GET /.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	top, err := h.parseTop(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	stats, err := h.store.Stats(r.Context(), top)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	html, err := report.HTML(stats)
	if err != nil {
		h.renderer.renderError(w, r, errors.NewInternal(err))
		return
	}

	h.renderer.renderPage(w, "stats", StatsPageData{
		PageData: PageData{
			Title:   "Statistics",
			Version: h.renderer.version,
			Nav:     "stats",
		},
		Report:      template.HTML(html),
		GeneratedAt: h.now().Unix(),
	})
}

// HandleItems renders the learned items at GET /items.
func (h *Handlers) HandleItems(w http.ResponseWriter, r *http.Request) {
	input := listInput(r)
	result, err := h.store.List(r.Context(), input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, "items", ItemsPageData{
		PageData: PageData{
			Title:   "Items",
			Version: h.renderer.version,
			Nav:     "items",
		},
		Items:      result.Items,
		Pagination: result.Pagination,
		Bin:        input.Bin,
		Bins:       bin.Colors,
	})
}

// HandleAPIStats handles GET /api/stats.
func (h *Handlers) HandleAPIStats(w http.ResponseWriter, r *http.Request) {
	top, err := h.parseTop(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	stats, err := h.store.Stats(r.Context(), top)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, stats)
}

// HandleAPIItems handles GET /api/items.
func (h *Handlers) HandleAPIItems(w http.ResponseWriter, r *http.Request) {
	result, err := h.store.List(r.Context(), listInput(r))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.Stats(r.Context(), 0); err != nil {
		h.log.WithError(err).Warn("health check failed")
		renderJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	renderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) parseTop(r *http.Request) (int, error) {
	s := r.URL.Query().Get("top")
	if s == "" {
		return h.topN, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > maxTopN {
		return 0, errors.NewInvalidRequest("top must be an integer between 0 and 100")
	}
	return n, nil
}

func listInput(r *http.Request) store.ListInput {
	return store.ListInput{
		Bin:    r.URL.Query().Get("bin"),
		Limit:  parseIntParam(r, "limit", store.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	}
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
