package api

import (
	"errors"
	"io"
	"net/http"
	"time"
)

// flushWriter adapta o ResponseWriter ao FrameWriter do stream
type flushWriter struct {
	io.Writer
	rc *http.ResponseController
}

func (f flushWriter) Flush() error {
	return f.rc.Flush()
}

// handleStream (GET /v1/stream) mantém a conexão SSE aberta até o cliente sair
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	req, err := h.svc.Stream.Prepare(r.Context(), rc.UserID, rc.SessionID)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}

	ctrl := http.NewResponseController(w)
	// o WriteTimeout do servidor não vale para streams longos
	if err := ctrl.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("não foi possível remover o deadline de escrita", "error", err)
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := h.svc.Stream.Serve(r.Context(), flushWriter{Writer: w, rc: ctrl}, req); err != nil {
		h.logger.Debug("stream encerrado", "user", rc.UserID, "error", err)
	}
}
