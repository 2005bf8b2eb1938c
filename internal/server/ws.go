package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/cuepilot/cuepilot/internal/align"
	"github.com/cuepilot/cuepilot/internal/ingest"
	"github.com/cuepilot/cuepilot/internal/session"
)

// snapshotEvent wraps a state snapshot as a stream event.
func snapshotEvent(snap *align.Snapshot) session.Event {
	return session.Event{Kind: session.EventState, State: snap}
}

// writeEvent sends one event with a bounded write deadline.
func writeEvent(ctx context.Context, conn *websocket.Conn, ev session.Event) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, ev)
}

// writeTimeout bounds a single outbound event write to a stream client.
const writeTimeout = 5 * time.Second

// handleStream upgrades GET /v1/sessions/{id}/stream to a WebSocket.
//
// Inbound messages are spoken-word events (ingest.Event JSON) pushed into the
// session's queue in arrival order. Outbound messages are session events
// (match, highlight, scroll, state) as they occur. A state snapshot is sent
// on connect so clients can render immediately.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("stream: websocket accept failed", "session_id", sess.ID, "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	events, cancel := sess.Subscribe()
	defer cancel()

	ctx := r.Context()
	g, ctx := errgroup.WithContext(ctx)

	// Initial snapshot.
	snap := sess.State()
	if err := writeEvent(ctx, conn, snapshotEvent(&snap)); err != nil {
		return
	}

	// Outbound: session events to the client.
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, open := <-events:
				if !open {
					return errors.New("session closed")
				}
				if err := writeEvent(ctx, conn, ev); err != nil {
					return err
				}
			}
		}
	})

	// Inbound: spoken-word events from the transcription client.
	g.Go(func() error {
		for {
			var ev ingest.Event
			if err := wsjson.Read(ctx, conn, &ev); err != nil {
				return err
			}
			sess.Push(ev)
		}
	})

	err = g.Wait()
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		conn.Close(websocket.StatusNormalClosure, "")
	default:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Debug("stream: connection ended", "session_id", sess.ID, "err", err)
		}
	}
}
