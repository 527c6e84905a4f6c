// Package proxy implements the workspace-routing HTTP/TCP proxy: a single
// loopback-bound server that forwards requests to per-workspace backends
// bound on private loopback IPs, so sandboxes can reuse the same port
// without colliding. Grounded in the teacher's handleWorkspacePortProxy
// (internal/server/ports_proxy.go), which reverse-proxies to a
// 127.0.0.1:<port> target via httputil.ReverseProxy, generalized here to
// resolve the target IP per workspace rather than always loopback.
package proxy

import (
	"hash/fnv"
	"net"
)

// workspaceSubnet is the private loopback range workspace backends bind
// into, confirmed against the original implementation's proxy tests
// (crates/cmux-proxy/tests/workspace.rs binds test backends into this
// exact subnet).
const (
	subnetBase = uint32(127)<<24 | uint32(18)<<16 // 127.18.0.0
	subnetSize = uint32(1) << 16                  // /16
)

// WorkspaceIP returns the deterministic loopback IPv4 address a workspace's
// backends are expected to bind on. The mapping is pure: an FNV-1a hash of
// the name, taken modulo the usable host range (excluding the network and
// broadcast-adjacent addresses), added to the subnet base.
func WorkspaceIP(name string) net.IP {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	sum := h.Sum32()

	usable := subnetSize - 2 // exclude .0.0 network and .255.255 broadcast-adjacent
	offset := sum%usable + 1 // shift into [1, usable], never .0.0

	addr := subnetBase + offset
	return net.IPv4(byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
}
