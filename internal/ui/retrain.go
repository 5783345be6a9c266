package ui

import (
	"context"
	"net/http"

	"bankruptcy-console/internal/backend"
	"bankruptcy-console/internal/session"
	"bankruptcy-console/internal/supervisor"
)

// The model page posts back and redirects here, so status lines live in
// the session rather than in the response.
const retrainPath = "/retrain"

func (h *Handler) backToRetrain(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, retrainPath, http.StatusSeeOther)
}

func (h *Handler) handleRetrainPage(w http.ResponseWriter, r *http.Request) {
	sid := h.sessionID(w, r)
	st, err := h.sessions.Get(r.Context(), sid)
	if err != nil {
		h.logger.Error("session load failed", "err", err)
		http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
		return
	}
	h.renderPage(w, http.StatusOK, "retrain", h.newRetrainPage(st))
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	const op = backend.OpUpload
	sid := h.sessionID(w, r)
	defer h.backToRetrain(w, r)

	up, cleanup, err := h.readUpload(w, r)
	if err != nil {
		h.reject(sid, op, err)
		h.updateState(r.Context(), sid, func(st *session.State) {
			st.Status = session.Failure(failureText("Upload failed", op, err))
		})
		return
	}
	defer cleanup()

	var res backend.UploadResult
	err = h.call(r.Context(), sid, op, up.Name, up.Size, func(ctx context.Context) (supervisor.Outcome, error) {
		var err error
		res, err = h.client.UploadTrainingData(ctx, up)
		return supervisor.Outcome{RecordCount: res.RecordsAdded}, err
	})

	h.updateState(r.Context(), sid, func(st *session.State) {
		if err != nil {
			st.Status = session.Failure(failureText("Upload failed", op, err))
			return
		}
		st.ApplyUpload(res)
	})
}

func (h *Handler) handleRetrain(w http.ResponseWriter, r *http.Request) {
	const op = backend.OpRetrain
	sid := h.sessionID(w, r)
	defer h.backToRetrain(w, r)

	var res backend.RetrainResult
	err := h.call(r.Context(), sid, op, "", 0, func(ctx context.Context) (supervisor.Outcome, error) {
		var err error
		res, err = h.client.Retrain(ctx)
		return supervisor.Outcome{ModelID: res.ModelID}, err
	})

	h.updateState(r.Context(), sid, func(st *session.State) {
		if err != nil {
			st.Status = session.Failure(failureText("Retraining failed", op, err))
			return
		}
		st.ApplyRetrain(res)
	})
}

// handleSave sends nothing to the API until a retrain has produced a model.
func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	const op = backend.OpSaveModel
	sid := h.sessionID(w, r)
	defer h.backToRetrain(w, r)

	st, err := h.sessions.Get(r.Context(), sid)
	if err != nil {
		h.logger.Error("session load failed", "err", err)
		return
	}
	if err := st.RequireModel(); err != nil {
		h.reject(sid, op, err)
		h.updateState(r.Context(), sid, func(st *session.State) {
			st.Status = session.Failure(userMessage(op, err))
		})
		return
	}

	modelID, saved := st.ModelID, st.Candidate
	err = h.call(r.Context(), sid, op, "", 0, func(ctx context.Context) (supervisor.Outcome, error) {
		_, err := h.client.SaveModel(ctx, modelID)
		return supervisor.Outcome{ModelID: modelID}, err
	})

	h.updateState(r.Context(), sid, func(st *session.State) {
		if err != nil {
			st.SaveStatus = session.Failure(failureText("Save failed", op, err))
			return
		}
		st.ApplySave(modelID, saved)
	})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	sid := h.sessionID(w, r)
	if err := h.sessions.Reset(r.Context(), sid); err != nil {
		h.logger.Error("session reset failed", "err", err)
	}
	h.backToRetrain(w, r)
}
