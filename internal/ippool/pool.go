// Package ippool allocates disjoint /30 host/sandbox address pairs from a
// fixed base address, recycling released blocks before handing out new ones.
package ippool

import (
	"encoding/binary"
	"net"
	"sync"

	"github.com/cmux/sandboxd/internal/sberr"
)

// Lease is a loaned /30 address pair.
type Lease struct {
	Host    net.IP
	Sandbox net.IP
	CIDR    int
	Index   uint32
}

// Pool allocates and recycles /30 leases from a base address. All access is
// serialized under a single lock: allocate/release must never race, since
// two concurrent creates leasing the same block would violate the
// disjointness invariant.
type Pool struct {
	mu        sync.Mutex
	base      uint32
	allocated map[uint32]bool // block index -> in use
	watermark uint32          // smallest block index not yet tried
}

// New creates a pool rooted at base (e.g. 10.200.0.0).
func New(base net.IP) *Pool {
	b4 := base.To4()
	if b4 == nil {
		// Fall back to a sane private default rather than panicking on a
		// malformed config value; callers validate configuration earlier.
		b4 = net.IPv4(10, 200, 0, 0).To4()
	}
	return &Pool{
		base:      binary.BigEndian.Uint32(b4),
		allocated: make(map[uint32]bool),
	}
}

// Allocate returns the smallest unused /30 block as a Lease, or
// KindIPPoolExhausted if arithmetic would overflow uint32 address space.
func (p *Pool) Allocate() (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	available := uint64(0xFFFFFFFF) - uint64(p.base)
	if available < 2 {
		return nil, sberr.New(sberr.KindIPPoolExhausted, "ip pool exhausted: no free /30 block remains")
	}
	maxK := (available - 2) / 4

	for k := p.watermark; ; k++ {
		// 4k + 2 must not overflow when added to base.
		if uint64(k) > maxK {
			return nil, sberr.New(sberr.KindIPPoolExhausted, "ip pool exhausted: no free /30 block remains")
		}
		if p.allocated[k] {
			continue
		}
		p.allocated[k] = true
		if k == p.watermark {
			p.watermark = k + 1
		}
		return p.leaseForBlock(k), nil
	}
}

// Release frees the block backing lease so lower blocks are reused before
// higher ones.
func (p *Pool) Release(l *Lease) {
	if l == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.allocated, l.Index)
	if l.Index < p.watermark {
		p.watermark = l.Index
	}
}

func (p *Pool) leaseForBlock(k uint32) *Lease {
	host := make(net.IP, 4)
	sandbox := make(net.IP, 4)
	binary.BigEndian.PutUint32(host, p.base+4*k+1)
	binary.BigEndian.PutUint32(sandbox, p.base+4*k+2)
	return &Lease{Host: host, Sandbox: sandbox, CIDR: 30, Index: k}
}

// InUse reports how many blocks are currently leased, for metrics.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.allocated)
}
