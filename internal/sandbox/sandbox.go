// Package sandbox creates and tears down isolated Linux sandboxes: a
// bubblewrap container with its own net/pid/uts/ipc namespaces, bridged to
// the host via a veth pair and a leased /30 from the IP pool. Grounded on
// the teacher corpus's docker-backed workspace lifecycle (create/list/get/
// exec/delete against a process handle map) and on the bubblewrap-specific
// command sequences in the original source.
package sandbox

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cmux/sandboxd/internal/ippool"
	"github.com/cmux/sandboxd/internal/sberr"
)

const (
	hostIfPrefix = "vethh"
	nsIfPrefix   = "vethn"
)

// Network describes the veth bridge configured between the host and a
// sandbox's network namespace.
type Network struct {
	HostInterface   string `json:"hostInterface"`
	SandboxInterface string `json:"sandboxInterface"`
	HostIP          string `json:"hostIp"`
	SandboxIP       string `json:"sandboxIp"`
	CIDR            int    `json:"cidr"`
}

// Status mirrors the lifecycle states a sandbox can be observed in.
type Status string

const (
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
	StatusFailed  Status = "failed"
)

// CreateRequest is the set of user-controllable inputs to Manager.Create.
type CreateRequest struct {
	Name          string
	Workspace     string // absolute, or relative to the manager's workspace root
	ReadOnlyPaths []string
	Tmpfs         []string
	Env           map[string]string
}

// ExecRequest runs one command inside an already-running sandbox's
// namespaces via nsenter.
type ExecRequest struct {
	Command []string
	Env     map[string]string
	Workdir string
}

type ExecResult struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Summary is the externally visible snapshot of a sandbox.
type Summary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	Workspace string    `json:"workspace"`
	Status    Status    `json:"status"`
	Network   Network   `json:"network"`
}

type handle struct {
	id        string
	name      string
	workspace string
	network   Network
	createdAt time.Time
	lease     *ippool.Lease

	mu         sync.Mutex
	cmd        *exec.Cmd
	pid        int
	done       bool
	exitOK     bool
	lastActive time.Time

	watchStop func()
}

// Manager owns every live sandbox on the host. One Manager exists per
// sandboxd process.
type Manager struct {
	mu         sync.Mutex
	sandboxes  map[string]*handle
	workspaceRoot string
	pool       *ippool.Pool

	bwrapBin   string
	ipBin      string
	nsenterBin string
}

// Config configures a Manager; binary paths are resolved once at startup
// via exec.LookPath so a missing dependency fails fast instead of on first
// use.
type Config struct {
	WorkspaceRoot string
	IPPoolBase    net.IP
	BwrapBin      string
	IPBin         string
	NsenterBin    string
}

func NewManager(cfg Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.WorkspaceRoot, 0o755); err != nil {
		return nil, sberr.Wrap(sberr.KindInternal, "create workspace root", err)
	}
	bwrap, err := findBinary(cfg.BwrapBin)
	if err != nil {
		return nil, err
	}
	ip, err := findBinary(cfg.IPBin)
	if err != nil {
		return nil, err
	}
	nsenter, err := findBinary(cfg.NsenterBin)
	if err != nil {
		return nil, err
	}
	return &Manager{
		sandboxes:     make(map[string]*handle),
		workspaceRoot: cfg.WorkspaceRoot,
		pool:          ippool.New(cfg.IPPoolBase),
		bwrapBin:      bwrap,
		ipBin:         ip,
		nsenterBin:    nsenter,
	}, nil
}

func findBinary(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", sberr.MissingBinary(name)
	}
	return path, nil
}

func defaultName(id string) string {
	short := id
	if len(short) > 8 {
		short = strings.ReplaceAll(short, "-", "")[:8]
	}
	return "sandbox-" + short
}

func interfaceNames(id string) (host, ns string) {
	short := strings.ReplaceAll(id, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return hostIfPrefix + "-" + short, nsIfPrefix + "-" + short
}

func (m *Manager) resolveWorkspace(req CreateRequest, id string) string {
	if req.Workspace != "" {
		if filepath.IsAbs(req.Workspace) {
			return req.Workspace
		}
		return filepath.Join(m.workspaceRoot, req.Workspace)
	}
	return filepath.Join(m.workspaceRoot, id, "workspace")
}

// Create allocates an IP lease, spawns bwrap, wires up networking, and
// registers the sandbox. Every step unwinds the steps before it on
// failure (process killed, lease released, workspace directory removed if
// Create made it) so a partial failure never leaks a lease or an orphaned
// namespace.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (Summary, error) {
	id := uuid.NewString()
	name := req.Name
	if name == "" {
		name = defaultName(id)
	}
	workspace := m.resolveWorkspace(req, id)
	_, statErr := os.Stat(workspace)
	madeWorkspace := os.IsNotExist(statErr)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return Summary{}, sberr.Wrap(sberr.KindIO, "create workspace dir", err)
	}
	registered := false
	defer func() {
		if !registered && madeWorkspace {
			_ = os.RemoveAll(workspace)
		}
	}()

	lease, err := m.pool.Allocate()
	if err != nil {
		return Summary{}, err
	}

	cmd, err := m.spawnBubblewrap(ctx, req, workspace, id, name)
	if err != nil {
		m.pool.Release(lease)
		return Summary{}, err
	}

	if cmd.Process == nil {
		m.pool.Release(lease)
		return Summary{}, sberr.New(sberr.KindProcessNotStarted, "bwrap process has no pid")
	}
	pid := cmd.Process.Pid

	network, err := m.configureNetwork(ctx, pid, lease, id)
	if err != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		m.pool.Release(lease)
		return Summary{}, err
	}

	h := &handle{
		id: id, name: name, workspace: workspace,
		network: network, createdAt: time.Now(),
		lease: lease, cmd: cmd, pid: pid, lastActive: time.Now(),
	}
	go h.reap()
	h.watchStop = watchWorkspaceActivity(workspace, h.touch)

	registered = true
	m.mu.Lock()
	m.sandboxes[id] = h
	m.mu.Unlock()

	log.Info().Str("sandbox_id", id).Str("name", name).Msg("sandbox created")
	return h.summary(), nil
}

// reap waits for the bwrap process to exit in the background so Wait is
// only ever called once, recording the observed status for later Get/List
// calls without blocking the caller of Create.
func (h *handle) reap() {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.done = true
	h.exitOK = err == nil
	h.mu.Unlock()
}

func (h *handle) status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.done {
		return StatusRunning
	}
	if h.exitOK {
		return StatusExited
	}
	return StatusFailed
}

func (h *handle) touch() {
	h.mu.Lock()
	h.lastActive = time.Now()
	h.mu.Unlock()
}

func (h *handle) idleFor() time.Duration {
	h.mu.Lock()
	last := h.lastActive
	h.mu.Unlock()
	return time.Since(last)
}

func (h *handle) summary() Summary {
	return Summary{
		ID: h.id, Name: h.name, CreatedAt: h.createdAt,
		Workspace: h.workspace, Status: h.status(), Network: h.network,
	}
}

func (m *Manager) spawnBubblewrap(ctx context.Context, req CreateRequest, workspace, id, name string) (*exec.Cmd, error) {
	args := []string{
		"--die-with-parent",
		"--unshare-net", "--unshare-pid", "--unshare-uts", "--unshare-ipc",
		"--bind", "/", "/",
		"--dev", "/dev",
		"--proc", "/proc",
		"--tmpfs", "/tmp",
		"--bind", workspace, "/workspace",
		"--chdir", "/workspace",
		"--hostname", name,
	}
	for _, p := range req.ReadOnlyPaths {
		args = append(args, "--ro-bind", p, p)
	}
	for _, mnt := range req.Tmpfs {
		args = append(args, "--tmpfs", mnt)
	}
	args = append(args, "--", "/bin/sh", "-c", "ip link set lo up && sleep infinity")

	// The sandbox process must outlive the HTTP request that created it, so
	// it is started detached from ctx rather than via CommandContext. Pdeathsig
	// still guards against orphaned bwrap trees if sandboxd itself is killed.
	cmd := exec.Command(m.bwrapBin, args...)
	cmd.Env = append(os.Environ(), envPairs(req.Env)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}

	if err := cmd.Start(); err != nil {
		return nil, sberr.Wrap(sberr.KindInternal, "start bwrap", err)
	}
	return cmd, nil
}

func envPairs(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}

func (m *Manager) configureNetwork(ctx context.Context, pid int, lease *ippool.Lease, id string) (Network, error) {
	hostIf, nsIf := interfaceNames(id)
	hostCIDR := fmt.Sprintf("%s/%d", lease.Host, lease.CIDR)
	sandboxCIDR := fmt.Sprintf("%s/%d", lease.Sandbox, lease.CIDR)
	pidStr := strconv.Itoa(pid)

	steps := [][]string{
		{m.ipBin, "link", "add", hostIf, "type", "veth", "peer", "name", nsIf},
		{m.ipBin, "addr", "add", hostCIDR, "dev", hostIf},
		{m.ipBin, "link", "set", hostIf, "up"},
		{m.ipBin, "link", "set", nsIf, "netns", pidStr},
		{m.nsenterBin, "--target", pidStr, "--net", "--", "ip", "addr", "add", sandboxCIDR, "dev", nsIf},
		{m.nsenterBin, "--target", pidStr, "--net", "--", "ip", "link", "set", nsIf, "up"},
		{m.nsenterBin, "--target", pidStr, "--net", "--", "ip", "link", "set", "lo", "up"},
		{m.nsenterBin, "--target", pidStr, "--net", "--", "ip", "route", "replace", "default", "via", lease.Host.String()},
	}
	for _, s := range steps {
		if err := runCommand(ctx, s[0], s[1:]...); err != nil {
			return Network{}, err
		}
	}
	return Network{
		HostInterface: hostIf, SandboxInterface: nsIf,
		HostIP: lease.Host.String(), SandboxIP: lease.Sandbox.String(), CIDR: lease.CIDR,
	}, nil
}

func (m *Manager) teardownNetwork(ctx context.Context, n Network) {
	if err := runCommand(ctx, m.ipBin, "link", "del", n.HostInterface); err != nil {
		log.Warn().Err(err).Str("interface", n.HostInterface).Msg("failed to delete veth interface")
	}
}

func runCommand(ctx context.Context, binary string, args ...string) error {
	cmd := exec.CommandContext(ctx, binary, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return sberr.CommandFailed(binary+" "+strings.Join(args, " "), string(out), err)
	}
	return nil
}

// List returns a snapshot summary of every tracked sandbox.
func (m *Manager) List() []Summary {
	m.mu.Lock()
	handles := make([]*handle, 0, len(m.sandboxes))
	for _, h := range m.sandboxes {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	out := make([]Summary, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.summary())
	}
	return out
}

func (m *Manager) Get(id string) (Summary, bool) {
	m.mu.Lock()
	h, ok := m.sandboxes[id]
	m.mu.Unlock()
	if !ok {
		return Summary{}, false
	}
	return h.summary(), true
}

// EnterCommand returns a command builder that runs a shell (or override
// command) inside sandbox id's namespaces via nsenter, for a pty.Session to
// spawn interactively. It mirrors Exec's nsenter invocation but leaves
// stdio unset so the caller can attach a pseudo-terminal directly instead
// of capturing output into strings. The returned func's signature matches
// pty.CommandBuilder structurally so the pty package never needs to import
// sandbox.
func (m *Manager) EnterCommand(id string) (func(shell string, args []string) (*exec.Cmd, error), error) {
	m.mu.Lock()
	h, ok := m.sandboxes[id]
	m.mu.Unlock()
	if !ok {
		return nil, sberr.NotFound(fmt.Sprintf("sandbox not found: %s", id))
	}
	nsenterBin := m.nsenterBin

	return func(shell string, args []string) (*exec.Cmd, error) {
		h.touch()
		nsArgs := []string{
			"--target", strconv.Itoa(h.pid),
			"--mount", "--uts", "--ipc", "--net", "--pid",
			"--wd", "/workspace",
			"--",
			shell,
		}
		nsArgs = append(nsArgs, args...)
		return exec.Command(nsenterBin, nsArgs...), nil
	}, nil
}

// Exec runs a command inside the sandbox's namespaces via nsenter,
// capturing stdout and stderr separately. Unlike the persistent PTY session, this
// is a one-shot request/response call used for scripted automation.
func (m *Manager) Exec(ctx context.Context, id string, req ExecRequest) (ExecResult, error) {
	if len(req.Command) == 0 {
		return ExecResult{}, sberr.InvalidRequest("exec.command must not be empty")
	}
	m.mu.Lock()
	h, ok := m.sandboxes[id]
	m.mu.Unlock()
	if !ok {
		return ExecResult{}, sberr.NotFound(fmt.Sprintf("sandbox not found: %s", id))
	}
	h.touch()

	workdir := req.Workdir
	if workdir == "" {
		workdir = "/workspace"
	}
	args := []string{
		"--target", strconv.Itoa(h.pid),
		"--mount", "--uts", "--ipc", "--net", "--pid",
		"--wd", workdir,
		"--",
	}
	args = append(args, req.Command...)

	cmd := exec.CommandContext(ctx, m.nsenterBin, args...)
	cmd.Env = append(os.Environ(), envPairs(req.Env)...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	} else if runErr != nil {
		exitCode = -1
	}
	return ExecResult{ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// Delete tears down networking, kills the bwrap process if still running,
// releases the IP lease, and removes the workspace directory (only if it
// lives under the manager's workspace root — an externally supplied
// absolute workspace path is left untouched).
func (m *Manager) Delete(ctx context.Context, id string) (Summary, bool, error) {
	m.mu.Lock()
	h, ok := m.sandboxes[id]
	if ok {
		delete(m.sandboxes, id)
	}
	m.mu.Unlock()
	if !ok {
		return Summary{}, false, nil
	}

	if h.watchStop != nil {
		h.watchStop()
	}
	m.pool.Release(h.lease)
	m.teardownNetwork(ctx, h.network)

	h.mu.Lock()
	if !h.done {
		_ = h.cmd.Process.Kill()
		h.mu.Unlock()
		_ = h.cmd.Wait()
	} else {
		h.mu.Unlock()
	}

	summary := h.summary()
	if strings.HasPrefix(h.workspace, m.workspaceRoot) {
		if err := os.RemoveAll(h.workspace); err != nil {
			log.Warn().Err(err).Str("workspace", h.workspace).Msg("failed to remove sandbox workspace")
		}
	}

	log.Info().Str("sandbox_id", id).Msg("sandbox removed")
	return summary, true, nil
}

// Count returns how many sandboxes are tracked, for metrics.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sandboxes)
}

// StatusCounts returns how many tracked sandboxes are in each status, for
// the sandboxes-by-status metrics gauge.
func (m *Manager) StatusCounts() map[string]int {
	m.mu.Lock()
	handles := make([]*handle, 0, len(m.sandboxes))
	for _, h := range m.sandboxes {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	counts := make(map[string]int, 3)
	for _, h := range handles {
		counts[string(h.status())]++
	}
	return counts
}

// CleanupIdle deletes every sandbox that has had no recorded activity
// (Exec, a PTY entry command, or a write in its workspace) for longer than
// maxIdle, returning how many were removed.
func (m *Manager) CleanupIdle(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	m.mu.Lock()
	var stale []string
	for id, h := range m.sandboxes {
		if h.idleFor() > maxIdle {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		if _, _, err := m.Delete(context.Background(), id); err != nil {
			log.Warn().Err(err).Str("sandbox_id", id).Msg("error deleting idle sandbox")
		}
	}
	return len(stale)
}

// Shutdown deletes every sandbox, for graceful daemon shutdown.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sandboxes))
	for id := range m.sandboxes {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		if _, _, err := m.Delete(ctx, id); err != nil {
			log.Warn().Err(err).Str("sandbox_id", id).Msg("error during shutdown delete")
		}
	}
}
