package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/vocalis/internal/job"
	"github.com/MrWong99/vocalis/internal/observe"
)

// handleEvents streams the job view over a websocket. A message is sent for
// the current state and then whenever the view changes. The server closes
// the socket after sending a terminal state, or when the job is deleted.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	v, err := s.jobs.Poll(r.Context(), id)
	if err != nil {
		writeJobError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept has already written the HTTP error.
		return
	}
	defer conn.CloseNow()

	log := observe.Logger(r.Context()).With("job_id", id)
	// Clients only listen; CloseRead also notices when they hang up.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var last []byte
	for {
		msg, err := json.Marshal(v)
		if err != nil {
			log.Error("api: encode job view", "err", err)
			conn.Close(websocket.StatusInternalError, "encode failure")
			return
		}
		if !bytes.Equal(msg, last) {
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				log.Debug("api: events client gone", "err", err)
				return
			}
			last = msg
		}
		if v.Status.Terminal() {
			conn.Close(websocket.StatusNormalClosure, string(v.Status))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		v, err = s.jobs.Poll(ctx, id)
		if errors.Is(err, job.ErrNotFound) {
			conn.Close(websocket.StatusNormalClosure, "job deleted")
			return
		}
		if err != nil {
			log.Error("api: poll for events", "err", err)
			conn.Close(websocket.StatusInternalError, "poll failure")
			return
		}
	}
}
