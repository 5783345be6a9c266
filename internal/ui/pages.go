package ui

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"bankruptcy-console/internal/backend"
	"bankruptcy-console/internal/features"
	"bankruptcy-console/internal/render"
	"bankruptcy-console/internal/session"
	"bankruptcy-console/internal/storage"
	"bankruptcy-console/internal/supervisor"
)

var pageNames = []string{"predict", "retrain", "activity"}

var funcs = template.FuncMap{
	"comma": func(n int) string { return humanize.Comma(int64(n)) },
	"bytes": func(n int64) string {
		if n < 0 {
			n = 0
		}
		return humanize.Bytes(uint64(n))
	},
	"pct": func(rate float64) string {
		return humanize.FtoaWithDigits(rate*100, 1) + "%"
	},
	"ms": formatMillis,
	"ago": func(unixMs int64) string {
		if unixMs == 0 {
			return "-"
		}
		return humanize.Time(time.UnixMilli(unixMs))
	},
	"since": func(t time.Time) string { return humanize.Time(t) },
}

func formatMillis(ms int) string {
	if ms < 1000 {
		return strconv.Itoa(ms) + " ms"
	}
	return humanize.FtoaWithDigits(float64(ms)/1000, 1) + " s"
}

// loadPages parses layout.html once and clones it for each page, so every
// page defines its own "title" and "content".
func loadPages(fsys fs.FS) (map[string]*template.Template, error) {
	base, err := template.New("layout.html").Funcs(funcs).ParseFS(fsys, "layout.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("clone layout for %s: %w", name, err)
		}
		t, err := clone.ParseFS(fsys, name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		pages[name] = t
	}
	return pages, nil
}

// pageData is shared by every page.
type pageData struct {
	Page            string
	ActivityEnabled bool
	Upstream        *supervisor.HealthStatus
}

func (h *Handler) base(page string) pageData {
	d := pageData{
		Page:            page,
		ActivityEnabled: h.features.Storage && h.store != nil,
	}
	if h.health != nil {
		if st := h.health.Status(); !st.LastCheck.IsZero() {
			d.Upstream = &st
		}
	}
	return d
}

type predictPage struct {
	pageData
	Fields      []features.Field
	MaxUpload   string
	Single      *render.SinglePrediction
	SingleError string
	Bulk        *render.BulkReport
	BulkError   string
}

func (h *Handler) newPredictPage() predictPage {
	return predictPage{
		pageData:  h.base("predict"),
		Fields:    features.Build(features.Expected),
		MaxUpload: humanize.Bytes(uint64(h.cfg.UploadMaxBytes)),
	}
}

type retrainPage struct {
	pageData
	Status     session.Status
	SaveStatus session.Status
	Current    []render.MetricCell
	Candidate  []render.MetricCell
	ModelID    string
	CanRetrain bool
	CanSave    bool
	MaxUpload  string
}

func (h *Handler) newRetrainPage(st session.State) retrainPage {
	p := retrainPage{
		pageData:   h.base("retrain"),
		Status:     st.Status,
		SaveStatus: st.SaveStatus,
		Current:    render.NewMetricsPanel(st.Current),
		ModelID:    st.ModelID,
		CanRetrain: st.UploadReady,
		CanSave:    st.CanSave(),
		MaxUpload:  humanize.Bytes(uint64(h.cfg.UploadMaxBytes)),
	}
	if st.Candidate != nil {
		p.Candidate = render.NewMetricsPanel(*st.Candidate)
	} else {
		p.Candidate = render.NewMetricsPanel(backend.Metrics{})
	}
	return p
}

type activityPage struct {
	pageData
	StorageEnabled bool
	LiveFeed       bool
	Overview       *storage.Overview
	Ops            []storage.OpStat
	Calls          []storage.Call
	InFlight       []supervisor.CallInfo
}

// renderPage executes the page into a buffer first so a template error
// never leaves a half-written response.
func (h *Handler) renderPage(w http.ResponseWriter, code int, name string, data any) {
	t, ok := h.pages[name]
	if !ok {
		h.logger.Error("unknown page", "page", name)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		h.logger.Error("render page failed", "page", name, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}
