package ui

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"bankruptcy-console/internal/session"
)

// sessionID returns the browser's session id, issuing a new cookie when the
// request has none or carries something that is not a uuid. The cookie is
// refreshed on every request so it lives as long as the idle TTL.
func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) string {
	id := ""
	if c, err := r.Cookie(h.cfg.SessionCookie); err == nil {
		if parsed, err := uuid.Parse(c.Value); err == nil {
			id = parsed.String()
		}
	}
	if id == "" {
		id = uuid.NewString()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(h.cfg.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// updateState applies fn to the session and logs store failures. The page
// is still redirected; it then shows whatever state was stored last.
func (h *Handler) updateState(ctx context.Context, sid string, fn func(*session.State)) {
	_, err := h.sessions.Update(context.WithoutCancel(ctx), sid, func(st *session.State) error {
		fn(st)
		return nil
	})
	if err != nil {
		h.logger.Error("session update failed", "err", err)
	}
}
