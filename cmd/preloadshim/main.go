// Command preloadshim is an LD_PRELOAD library that rewrites
// loopback-bound connect() calls from a sandboxed process to its
// workspace's private routing IP, so port-identical services in
// different sandboxes can coexist behind the workspace proxy (see
// internal/proxy and internal/preload). Build with:
//
//	go build -buildmode=c-shared -o preloadshim.so ./cmd/preloadshim
//
// and load it via LD_PRELOAD=./preloadshim.so before the sandboxed
// command. The address-rewrite decision itself lives in the cgo-free
// internal/preload package; this file is only the libc symbol
// interception boundary.
package main

/*
#cgo LDFLAGS: -ldl
#include <sys/socket.h>
#include <netinet/in.h>
#include <dlfcn.h>
#include <stddef.h>

typedef int (*connect_fn)(int, const struct sockaddr *, socklen_t);

static connect_fn real_connect = NULL;

static void ensure_real_connect(void) {
	if (!real_connect) {
		real_connect = (connect_fn)dlsym(RTLD_NEXT, "connect");
	}
}

static int call_real_connect(int sockfd, const struct sockaddr *addr, socklen_t addrlen) {
	ensure_real_connect();
	if (!real_connect) {
		return -1;
	}
	return real_connect(sockfd, addr, addrlen);
}

static int sockaddr_is_inet(const struct sockaddr *addr) {
	return addr != NULL && addr->sa_family == AF_INET;
}

static unsigned int sockaddr_in_addr(const struct sockaddr *addr) {
	const struct sockaddr_in *in = (const struct sockaddr_in *)addr;
	return (unsigned int)in->sin_addr.s_addr;
}

static unsigned short sockaddr_in_port(const struct sockaddr *addr) {
	const struct sockaddr_in *in = (const struct sockaddr_in *)addr;
	return (unsigned short)in->sin_port;
}

static void sockaddr_in_set(struct sockaddr *addr, unsigned int new_addr, unsigned short new_port) {
	struct sockaddr_in *in = (struct sockaddr_in *)addr;
	in->sin_addr.s_addr = new_addr;
	in->sin_port = new_port;
}
*/
import "C"

import (
	"net"

	"github.com/cmux/sandboxd/internal/preload"
)

// netToHostAddr unpacks a raw, network-byte-order sin_addr.s_addr value
// (as seen through a little-endian host's integer registers) into its four
// address octets, in address order.
func netToHostAddr(raw uint32) [4]byte {
	return [4]byte{
		byte(raw),
		byte(raw >> 8),
		byte(raw >> 16),
		byte(raw >> 24),
	}
}

func hostAddrToNet(b [4]byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// swapBytes16 converts between network byte order (big-endian) and the
// host's native integer value, equivalent to ntohs/htons (its own inverse).
func swapBytes16(v uint16) uint16 {
	return v<<8 | v>>8
}

//export connect
func connect(sockfd C.int, addr *C.struct_sockaddr, addrlen C.socklen_t) C.int {
	if C.sockaddr_is_inet(addr) != 0 {
		rewriteDestination(addr)
	}
	return C.call_real_connect(sockfd, addr, addrlen)
}

func rewriteDestination(addr *C.struct_sockaddr) {
	rawIP := uint32(C.sockaddr_in_addr(addr))
	rawPort := uint16(C.sockaddr_in_port(addr))

	octets := netToHostAddr(rawIP)
	ip := net.IPv4(octets[0], octets[1], octets[2], octets[3])
	port := swapBytes16(rawPort)

	workspace := preload.WorkspaceResolver()
	newIP, newPort, rewritten := preload.RewriteLoopback(workspace, ip, port)
	if !rewritten {
		return
	}

	ip4 := newIP.To4()
	if ip4 == nil {
		return
	}
	newRawIP := hostAddrToNet([4]byte{ip4[0], ip4[1], ip4[2], ip4[3]})
	newRawPort := swapBytes16(newPort)
	C.sockaddr_in_set(addr, C.uint(newRawIP), C.ushort(newRawPort))
}

func main() {}
