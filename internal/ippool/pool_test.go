package ippool

import (
	"net"
	"testing"

	"github.com/cmux/sandboxd/internal/sberr"
)

func base() net.IP { return net.IPv4(10, 200, 0, 0) }

func TestAllocateSequential(t *testing.T) {
	p := New(base())
	l0, err := p.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if l0.Host.String() != "10.200.0.1" || l0.Sandbox.String() != "10.200.0.2" {
		t.Fatalf("unexpected first lease: %+v", l0)
	}

	l1, err := p.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if l1.Host.String() != "10.200.0.5" || l1.Sandbox.String() != "10.200.0.6" {
		t.Fatalf("unexpected second lease: %+v", l1)
	}
}

func TestReleaseRecyclesLowestBlock(t *testing.T) {
	p := New(base())
	l0, _ := p.Allocate()
	l1, _ := p.Allocate()
	_, _ = p.Allocate()

	p.Release(l0)
	recycled, err := p.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if recycled.Index != l0.Index {
		t.Fatalf("expected recycled block %d, got %d", l0.Index, recycled.Index)
	}

	if l1.Index == recycled.Index {
		t.Fatalf("recycled lease collided with still-live lease")
	}
}

func TestDisjointLeases(t *testing.T) {
	p := New(base())
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		l, err := p.Allocate()
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		for _, addr := range []string{l.Host.String(), l.Sandbox.String()} {
			if seen[addr] {
				t.Fatalf("address %s leased twice", addr)
			}
			seen[addr] = true
		}
	}
}

func TestAllocateExhausted(t *testing.T) {
	// Base at the last /30 block of the address space: the first lease
	// (.253/.254) fits, and the next /30 block overflows.
	p := New(net.IPv4(255, 255, 255, 252))
	if _, err := p.Allocate(); err != nil {
		t.Fatalf("first allocate: %v", err)
	}
	if _, err := p.Allocate(); err == nil {
		t.Fatal("expected exhaustion error")
	} else if sbErr, ok := sberr.As(err); !ok || sbErr.Kind != sberr.KindIPPoolExhausted {
		t.Fatalf("expected KindIPPoolExhausted, got %v", err)
	}
}
