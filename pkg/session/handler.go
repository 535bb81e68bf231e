package session

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/txn2/sessionkit/pkg/session/token"
)

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	Manager *Manager
	Carrier token.Carrier
}

// Handler wraps an HTTP handler with session resolution: the carrier's
// token is read, a session handle is resolved or created and exposed via
// the request context, and the handle is finalized before the first
// response write (or after the inner handler returns, whichever comes
// first) so rotation and destruction are reflected in the client token.
type Handler struct {
	inner   http.Handler
	manager *Manager
	carrier token.Carrier
}

// NewHandler creates the session middleware around inner.
func NewHandler(inner http.Handler, cfg HandlerConfig) *Handler {
	return &Handler{
		inner:   inner,
		manager: cfg.Manager,
		carrier: cfg.Carrier,
	}
}

type sessionContextKey struct{}

// FromContext returns the session handle attached by the Handler.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*Session)
	return s, ok
}

// ServeHTTP resolves the session, serves the inner handler and commits.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	presented, _ := h.carrier.Read(r)

	sess, err := h.manager.Resolve(r.Context(), presented)
	if err != nil {
		slog.Error("session: resolve failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	// Storable consent travels in its own token when sessions do not
	// start storable.
	if !h.manager.cfg.AlwaysStore {
		if c, err := r.Cookie(h.manager.cfg.StorableTokenName); err == nil && c.Value == "1" {
			sess.SetStorable(true)
		}
	}

	ctx := context.WithValue(r.Context(), sessionContextKey{}, sess)
	cw := &commitWriter{ResponseWriter: w, handler: h, sess: sess, ctx: ctx}
	h.inner.ServeHTTP(cw, r.WithContext(ctx))
	cw.commit()
}

// commitWriter finalizes the session just before the first response write,
// while headers can still be set.
type commitWriter struct {
	http.ResponseWriter
	handler   *Handler
	sess      *Session
	ctx       context.Context
	committed bool
}

func (w *commitWriter) WriteHeader(statusCode int) {
	w.commit()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *commitWriter) Write(b []byte) (int, error) {
	w.commit()
	return w.ResponseWriter.Write(b)
}

// Flush implements http.Flusher for streaming handlers.
func (w *commitWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap supports http.ResponseController.
func (w *commitWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// commit flushes the session and updates the client tokens. Runs once.
func (w *commitWriter) commit() {
	if w.committed {
		return
	}
	w.committed = true

	h := w.handler
	sess := w.sess

	var destroyed, storable, longterm bool
	sess.tap(func(rec *Record) {
		destroyed = rec.Destroy
		storable = rec.Storable
		longterm = rec.Longterm
	})

	if err := h.manager.Finalize(w.ctx, sess); err != nil {
		slog.Error("session: finalize failed", "session_id", sess.ID(), "error", err)
		return
	}

	cfg := h.manager.cfg
	if destroyed {
		h.carrier.Clear(w.ResponseWriter)
		if !cfg.AlwaysStore {
			h.setStorableCookie(w.ResponseWriter, "", -1)
		}
		return
	}

	maxAge := cfg.lifetimeFor(longterm)
	h.carrier.Write(w.ResponseWriter, sess.ID(), maxAge)
	if !cfg.AlwaysStore && storable {
		h.setStorableCookie(w.ResponseWriter, "1", int(maxAge.Seconds()))
	}
}

// setStorableCookie writes the plain consent cookie with the configured
// attributes.
func (h *Handler) setStorableCookie(w http.ResponseWriter, value string, maxAge int) {
	cfg := h.manager.cfg
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.StorableTokenName,
		Value:    value,
		Path:     cfg.Cookie.Path,
		Domain:   cfg.Cookie.Domain,
		MaxAge:   maxAge,
		Secure:   cfg.Cookie.Secure,
		HttpOnly: cfg.Cookie.HTTPOnly,
		SameSite: token.ParseSameSite(cfg.Cookie.SameSite),
	})
}
