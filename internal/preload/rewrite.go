// Package preload holds the pure-Go, cgo-free address-rewrite decision used
// by the LD_PRELOAD connect() shim (cmd/preloadshim). Kept separate from
// the cgo boundary so the routing logic is unit-testable without a C
// toolchain.
package preload

import (
	"net"
	"os"
	"path/filepath"

	"github.com/cmux/sandboxd/internal/proxy"
)

// WorkspaceNameEnv names the environment variable a sandboxed process may
// set to declare its workspace identity explicitly.
const WorkspaceNameEnv = "CMUX_WORKSPACE_INTERNAL"

// WorkspaceResolver yields the process's workspace identity: the
// CMUX_WORKSPACE_INTERNAL environment variable if set, otherwise the
// basename of the current working directory.
func WorkspaceResolver() string {
	if name := os.Getenv(WorkspaceNameEnv); name != "" {
		return name
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	base := filepath.Base(cwd)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return base
}

// RewriteLoopback decides whether a connect() call to ip:port should be
// redirected to the calling process's workspace IP. It rewrites only
// loopback destinations (127.0.0.1 et al.) — anything else is left alone,
// since only loopback-bound backends are subject to workspace port reuse.
// workspaceName is injected by the caller (normally WorkspaceResolver())
// so the decision stays pure and testable.
func RewriteLoopback(workspaceName string, ip net.IP, port uint16) (net.IP, uint16, bool) {
	if workspaceName == "" {
		return ip, port, false
	}
	if !ip.IsLoopback() {
		return ip, port, false
	}
	target := proxy.WorkspaceIP(workspaceName)
	return target, port, true
}
