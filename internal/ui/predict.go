package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"bankruptcy-console/internal/backend"
	"bankruptcy-console/internal/features"
	"bankruptcy-console/internal/render"
	"bankruptcy-console/internal/supervisor"
	"bankruptcy-console/internal/util"
)

// Uploaded files larger than this spill to temp files while parsing.
const multipartMemory = 8 << 20

func (h *Handler) handlePredictPage(w http.ResponseWriter, r *http.Request) {
	h.sessionID(w, r)
	h.renderPage(w, http.StatusOK, "predict", h.newPredictPage())
}

func (h *Handler) handlePredictSingle(w http.ResponseWriter, r *http.Request) {
	const op = backend.OpPredictSingle
	sid := h.sessionID(w, r)
	page := h.newPredictPage()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form", http.StatusBadRequest)
		return
	}
	page.Fields = features.WithValues(page.Fields, r.PostForm)

	rec, err := features.ParseRecord(features.Expected, r.PostForm)
	if err != nil {
		h.reject(sid, op, err)
		page.SingleError = failureText("Prediction failed", op, err)
		h.renderPage(w, statusFor(err), "predict", page)
		return
	}

	var pred backend.Prediction
	err = h.call(r.Context(), sid, op, "", 0, func(ctx context.Context) (supervisor.Outcome, error) {
		p, err := h.client.PredictSingle(ctx, rec)
		if err != nil {
			return supervisor.Outcome{}, err
		}
		pred = p
		out := supervisor.Outcome{RecordCount: 1}
		if p.HighRisk() {
			out.HighRiskCount = 1
		}
		return out, nil
	})
	if err != nil {
		page.SingleError = failureText("Prediction failed", op, err)
		h.renderPage(w, statusFor(err), "predict", page)
		return
	}

	h.logger.Debug("single prediction", "record", util.MustJSON(rec), "prediction", pred.Prediction)

	view := render.NewSinglePrediction(pred.Prediction, pred.Probability)
	page.Single = &view
	h.renderPage(w, http.StatusOK, "predict", page)
}

func (h *Handler) handlePredictBulk(w http.ResponseWriter, r *http.Request) {
	const op = backend.OpPredictBulk
	sid := h.sessionID(w, r)
	page := h.newPredictPage()

	up, cleanup, err := h.readUpload(w, r)
	if err != nil {
		h.reject(sid, op, err)
		page.BulkError = userMessage(op, err)
		h.renderPage(w, statusFor(err), "predict", page)
		return
	}
	defer cleanup()

	var report render.BulkReport
	err = h.call(r.Context(), sid, op, up.Name, up.Size, func(ctx context.Context) (supervisor.Outcome, error) {
		results, err := h.client.PredictBulk(ctx, up)
		if err != nil {
			return supervisor.Outcome{}, err
		}
		report = render.NewBulkReport(results)
		return supervisor.Outcome{RecordCount: report.Total, HighRiskCount: report.HighRiskCount}, nil
	})
	if err != nil {
		page.BulkError = userMessage(op, err)
		h.renderPage(w, statusFor(err), "predict", page)
		return
	}

	page.Bulk = &report
	h.renderPage(w, http.StatusOK, "predict", page)
}

// readUpload extracts the "file" part of a multipart form and sniffs its
// type. The returned cleanup closes the file and removes temp files.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (backend.Upload, func(), error) {
	limit := h.cfg.UploadMaxBytes
	if r.ContentLength > limit {
		return backend.Upload{}, nil, &tooLargeError{limit: limit}
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return backend.Upload{}, nil, &tooLargeError{limit: limit}
		case errors.Is(err, http.ErrNotMultipart), errors.Is(err, io.EOF):
			return backend.Upload{}, nil, backend.ErrNoFile
		default:
			return backend.Upload{}, nil, fmt.Errorf("parse upload: %w", err)
		}
	}
	removeTemp := func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		removeTemp()
		if errors.Is(err, http.ErrMissingFile) {
			return backend.Upload{}, nil, backend.ErrNoFile
		}
		return backend.Upload{}, nil, fmt.Errorf("read upload: %w", err)
	}

	up, err := backend.NewUpload(header.Filename, file, header.Size, h.cfg.UploadAllowedTypes)
	if err != nil {
		file.Close()
		removeTemp()
		return backend.Upload{}, nil, err
	}
	return up, func() {
		file.Close()
		removeTemp()
	}, nil
}
