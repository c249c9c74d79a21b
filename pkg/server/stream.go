// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/teradata-labs/loom-research/pkg/storage"
	"github.com/teradata-labs/loom-research/pkg/stream"
)

const (
	writeWait    = 10 * time.Second
	maxReadBytes = 4096
)

// claimStream checks the job and claims its live progress stream. On
// failure it returns the reason and the matching HTTP status.
func (s *Server) claimStream(ctx context.Context, id string) (*stream.Queue, string, int) {
	job, err := s.jobs.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, "No analysis found for this id", http.StatusNotFound
	}
	if err != nil {
		s.logger.Error("Failed to load job for streaming", zap.String("job_id", id), zap.Error(err))
		return nil, "internal error", http.StatusInternalServerError
	}

	switch job.Status {
	case storage.StatusCompleted:
		return nil, "Analysis already completed", http.StatusGone
	case storage.StatusFailed:
		return nil, "Analysis failed", http.StatusGone
	}

	q, err := s.jobs.Stream(id)
	if errors.Is(err, stream.ErrAlreadyClaimed) {
		return nil, "Analysis stream already has a consumer", http.StatusConflict
	}
	if err != nil {
		return nil, "Unknown id", http.StatusNotFound
	}
	return q, "", http.StatusOK
}

// relay delivers events from q through send up to and including the
// terminal event. keepalive runs whenever the queue stays idle for the
// ping interval. It reports whether the terminal event was sent.
func (s *Server) relay(ctx context.Context, q *stream.Queue, send func(stream.Event) error, keepalive func() error) (bool, error) {
	for {
		nextCtx, cancel := ctx, context.CancelFunc(func() {})
		if s.config.PingInterval > 0 {
			nextCtx, cancel = context.WithTimeout(ctx, s.config.PingInterval)
		}
		e, err := q.Next(nextCtx)
		cancel()

		switch {
		case errors.Is(err, io.EOF):
			return true, nil
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			if err := keepalive(); err != nil {
				return false, err
			}
			continue
		case err != nil:
			return false, err
		}

		if err := send(e); err != nil {
			return false, err
		}
		if e.Terminal() {
			return true, nil
		}
	}
}

// handleWebSocket relays a job's progress as JSON text frames. Jobs that
// cannot be streamed are closed with a policy-violation frame.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	logger := s.logger.With(zap.String("job_id", id))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	q, reason, _ := s.claimStream(r.Context(), id)
	if q == nil {
		logger.Debug("Rejecting WebSocket stream", zap.String("reason", reason))
		closeWebSocket(conn, websocket.ClosePolicyViolation, reason)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	conn.SetReadLimit(maxReadBytes)
	go func() {
		// Client frames are ignored; a read error means the peer is gone.
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	send := func(e stream.Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(e)
	}
	ping := func() error {
		return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
	}

	delivered, err := s.relay(ctx, q, send, ping)
	if !delivered {
		q.Release()
		logger.Debug("WebSocket client left before the end of the stream", zap.Error(err))
		return
	}
	closeWebSocket(conn, websocket.CloseNormalClosure, "")
}

func closeWebSocket(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// handleSSE relays a job's progress as server-sent events. The event name
// is the event kind and the data is the JSON-encoded event.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	logger := s.logger.With(zap.String("job_id", id))
	rc := http.NewResponseController(w)

	q, reason, status := s.claimStream(r.Context(), id)
	if q == nil {
		writeError(w, status, reason)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		q.Release()
		logger.Error("Streaming unsupported", zap.Error(err))
		return
	}

	send := func(e stream.Event) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Seq, e.Kind, data); err != nil {
			return err
		}
		return rc.Flush()
	}
	keepalive := func() error {
		if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
			return err
		}
		return rc.Flush()
	}

	delivered, err := s.relay(r.Context(), q, send, keepalive)
	if !delivered {
		q.Release()
		logger.Debug("SSE client left before the end of the stream", zap.Error(err))
	}
}
