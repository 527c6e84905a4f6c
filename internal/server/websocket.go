package server

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/cmux/sandboxd/internal/metrics"
	"github.com/cmux/sandboxd/internal/pty"
	"github.com/cmux/sandboxd/internal/sberr"
)

// handleAttach upgrades to a WebSocket and streams a PTY session per §6's
// framing contract: binary frames carry raw terminal bytes in both
// directions; a text frame holding the resize control message resizes the
// session, and any other text frame is written to the PTY verbatim. This
// diverges deliberately from the teacher's all-JSON-envelope framing
// (wsMessage{Type,SessionID,Data}), which wraps every byte of PTY output in
// a JSON object — unsuitable here since sandboxd's clients expect to feed
// raw bytes straight into a terminal emulator without an unwrap step.
func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	summary, ok := s.sandboxes.Get(id)
	if !ok {
		writeErr(w, sberr.NotFound("sandbox not found: "+id))
		return
	}

	rows := queryInt(r, "rows", s.cfg.DefaultRows)
	cols := queryInt(r, "cols", s.cfg.DefaultCols)
	shell := r.URL.Query().Get("command")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	build, err := s.sandboxes.EnterCommand(summary.ID)
	if err != nil {
		log.Warn().Err(err).Str("sandbox_id", id).Msg("failed to build sandbox entry command")
		return
	}
	session, err := s.sessions.CreateSession(build, shell, nil, rows, cols)
	if err != nil {
		log.Warn().Err(err).Str("sandbox_id", id).Msg("failed to create pty session")
		return
	}
	metrics.PTYSessionsTotal.Inc()
	defer func() {
		s.sessions.Close(session.ID)
		metrics.PTYSessionsTotal.Dec()
	}()

	backlogChunks, live, detach := session.Attach()
	defer detach()

	var writeMu sync.Mutex
	for _, chunk := range backlogChunks {
		writeMu.Lock()
		err := conn.WriteMessage(websocket.BinaryMessage, chunk)
		writeMu.Unlock()
		if err != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for chunk := range live {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.BinaryMessage, chunk)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		isText := msgType == websocket.TextMessage
		if err := session.Write(data, isText); err != nil {
			break
		}
	}
	<-done
}

// handleScreen renders the session's current virtual-terminal contents as
// JSON, for clients that want a screen snapshot (e.g. a preview pane)
// without decoding the raw escape-sequence stream themselves.
func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	// Sandbox ownership of the session was already established at attach
	// time; the {id} path segment just scopes the route under /sandboxes.
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeErr(w, sberr.InvalidRequest("sessionId query parameter is required"))
		return
	}
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		writeErr(w, sberr.NotFound("pty session not found: "+sessionID))
		return
	}
	screen := session.Screen()
	writeJSON(w, http.StatusOK, renderedScreen{
		Rows:      screen.Rows,
		Cols:      screen.Cols,
		CursorRow: screen.CursorRow,
		CursorCol: screen.CursorCol,
		Lines:     renderLines(screen),
	})
}

type renderedScreen struct {
	Rows      int      `json:"rows"`
	Cols      int      `json:"cols"`
	CursorRow int      `json:"cursorRow"`
	CursorCol int      `json:"cursorCol"`
	Lines     []string `json:"lines"`
}

func renderLines(screen pty.Screen) []string {
	lines := make([]string, len(screen.Lines))
	for i, row := range screen.Lines {
		runes := make([]rune, 0, len(row.Cells))
		for _, c := range row.Cells {
			if c.WideSpacer {
				continue
			}
			if c.Rune == 0 {
				runes = append(runes, ' ')
				continue
			}
			runes = append(runes, c.Rune)
		}
		lines[i] = string(runes)
	}
	return lines
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
