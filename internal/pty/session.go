// Package pty spawns and multiplexes interactive shells (or piped commands)
// running inside sandboxes, broadcasting their output to many concurrent
// WebSocket attachers with bounded, never-split backlog replay.
package pty

import (
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	ptylib "github.com/creack/pty"
	"github.com/rs/zerolog/log"

	"github.com/cmux/sandboxd/internal/term"
)

// CommandBuilder constructs the exec.Cmd used to start the session's child
// process. Sandbox-backed sessions supply a builder that wraps the command
// with the sandbox's entering helper (nsenter); host-local sessions supply
// one that runs the shell directly. Kept as a callback so this package has
// no dependency on sandbox namespace mechanics.
type CommandBuilder func(shell string, args []string) (*exec.Cmd, error)

// Config configures a new Session.
type Config struct {
	ID             string
	CreatedOrder   uint64
	Shell          string
	Args           []string
	Rows, Cols     int
	Backend        string // "pty" or "pipe"
	BacklogCapB    int
	Build          CommandBuilder
	OnClose        func(id string)
}

// resizeMsg is the only mandatory inbound control message.
type resizeMsg struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// Session is one spawned shell (or piped command) plus its broadcast and
// backlog state.
type Session struct {
	ID           string
	CreatedOrder uint64

	mu        sync.RWMutex
	cmd       *exec.Cmd
	ptmx      *os.File // nil in pipe mode
	stdin     io.WriteCloser
	rows, cols int
	backend   string
	exited    bool
	exitCode  int
	lastActive time.Time

	backlog     *backlog
	broadcaster *broadcaster
	onClose     func(id string)
	closeOnce   sync.Once

	daFilter term.DAFilter

	gridMu sync.Mutex
	grid   *term.Grid
	parser *term.Parser
}

// Spawn starts a new session per §4.3. In "pty" mode a real pseudo-terminal
// is allocated via creack/pty; in "pipe" mode stdio pipes are used instead
// and resize requests resize only the emulator grid.
func Spawn(cfg Config) (*Session, error) {
	shell := cfg.Shell
	rows, cols := cfg.Rows, cfg.Cols
	if rows <= 0 {
		rows = 24
	}
	if cols <= 0 {
		cols = 80
	}
	backend := cfg.Backend
	if backend == "" {
		backend = "pty"
	}

	cmd, err := cfg.Build(shell, cfg.Args)
	if err != nil {
		return nil, err
	}

	grid := term.NewGrid(rows, cols)
	s := &Session{
		ID:           cfg.ID,
		CreatedOrder: cfg.CreatedOrder,
		cmd:          cmd,
		rows:         rows,
		cols:         cols,
		backend:      backend,
		lastActive:   time.Now(),
		backlog:      newBacklog(cfg.BacklogCapB),
		broadcaster:  newBroadcaster(),
		onClose:      cfg.OnClose,
		grid:         grid,
		parser:       term.NewParser(grid),
	}

	if backend == "pipe" {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, err
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, err
		}
		cmd.Stderr = cmd.Stdout // best-effort: merge stderr into stdout stream
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		s.stdin = stdin
		s.startReader(stdout)
		return s, nil
	}

	ptmx, err := ptylib.StartWithSize(cmd, &ptylib.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return nil, err
	}
	s.ptmx = ptmx
	s.startReader(ptmx)
	return s, nil
}

// startReader runs the persistent output-pump goroutine: read -> strip DA
// responses -> push to backlog -> broadcast is one ordered step per chunk,
// so subscribers never observe reordered or duplicated output (§5 ordering
// guarantees). The DA filter runs first so a child's replies to device
// attribute queries never reach backlog/broadcast consumers (§4.4.3); the
// same filtered bytes then feed the session's grid so a rendered snapshot
// reflects exactly what viewers receive.
func (s *Session) startReader(r io.Reader) {
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunk := s.daFilter.Filter(buf[:n])
				s.touch()
				if len(chunk) > 0 {
					s.backlog.push(chunk)
					s.broadcaster.publish(chunk)
					s.feedGrid(chunk)
				}
			}
			if err != nil {
				s.markExited()
				log.Debug().Str("session_id", s.ID).Err(err).Msg("pty reader ended")
				return
			}
		}
	}()
}

func (s *Session) feedGrid(chunk []byte) {
	s.gridMu.Lock()
	s.parser.Write(chunk)
	s.gridMu.Unlock()
}

// Screen is a point-in-time rendered snapshot of the session's terminal
// grid, for clients that want a screen render rather than raw bytes (e.g.
// a preview pane) without forwarding escape sequences themselves.
type Screen struct {
	Rows, Cols       int
	CursorRow, CursorCol int
	Lines            []term.Row
}

// Screen renders the current state of the session's virtual terminal.
func (s *Session) Screen() Screen {
	s.gridMu.Lock()
	defer s.gridMu.Unlock()
	r, c := s.grid.CursorPosition()
	return Screen{
		Rows:      s.grid.Rows(),
		Cols:      s.grid.Cols(),
		CursorRow: r,
		CursorCol: c,
		Lines:     s.grid.ViewportSnapshot(),
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Session) markExited() {
	s.mu.Lock()
	s.exited = true
	if s.cmd.ProcessState != nil {
		s.exitCode = s.cmd.ProcessState.ExitCode()
	}
	s.mu.Unlock()
}

// Attach subscribes a new viewer and delivers the current backlog to it
// before any live output. Subscription happens before the backlog snapshot
// is taken so chunks produced concurrently during replay are queued on the
// viewer's channel rather than lost, exactly mirroring the teacher's
// AttachViewer subscribe-before-replay ordering.
func (s *Session) Attach() (backlogChunks [][]byte, live <-chan []byte, detach func()) {
	v, unsubscribe := s.broadcaster.subscribe()
	snap := s.backlog.snapshot()
	return snap, v.sendCh, unsubscribe
}

// Write sends inbound bytes from an attacher to the child process. If the
// frame is a JSON object that parses successfully, it is treated as a
// control message; a recognized resize message resizes the PTY and is not
// forwarded to the child. Anything else (unrecognized JSON, plain text,
// binary) is written verbatim.
func (s *Session) Write(data []byte, isText bool) error {
	if isText {
		var msg resizeMsg
		if err := json.Unmarshal(data, &msg); err == nil && msg.Type == "resize" {
			return s.Resize(msg.Rows, msg.Cols)
		}
	}
	s.touch()
	w := s.writer()
	if w == nil {
		return nil
	}
	_, err := w.Write(data)
	return err
}

func (s *Session) writer() io.Writer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ptmx != nil {
		return s.ptmx
	}
	return s.stdin
}

// Resize applies a new terminal size to the emulator grid and, when a PTY
// master is present, to the PTY. In pipe mode only the grid is resized.
func (s *Session) Resize(rows, cols int) error {
	s.mu.Lock()
	s.rows, s.cols = rows, cols
	ptmx := s.ptmx
	s.mu.Unlock()

	s.gridMu.Lock()
	s.grid.Resize(rows, cols)
	s.gridMu.Unlock()

	if ptmx == nil {
		return nil
	}
	return ptylib.Setsize(ptmx, &ptylib.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// Terminate kills the child, reaps it, and is idempotent and safe to call
// concurrently with attachers.
func (s *Session) Terminate() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		proc := s.cmd.Process
		ptmx := s.ptmx
		s.mu.Unlock()

		if proc != nil {
			_ = proc.Kill()
			_, _ = proc.Wait()
		}
		if ptmx != nil {
			_ = ptmx.Close()
		}
		s.markExited()
		if s.onClose != nil {
			s.onClose(s.ID)
		}
	})
}

// IsRunning reports whether the child process has not yet exited.
func (s *Session) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.exited
}

// LastActive returns the timestamp of the most recent read or write.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// IdleFor returns how long the session has been idle.
func (s *Session) IdleFor() time.Duration { return time.Since(s.LastActive()) }
