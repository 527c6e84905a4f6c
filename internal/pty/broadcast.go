package pty

import "sync"

// defaultViewerSendBuffer bounds how many chunks a single slow viewer can
// fall behind before the producer starts dropping its chunks. Adapted from
// the teacher's Viewer.sendCh sizing for ACP session output.
const defaultViewerSendBuffer = 256

// viewer is one attacher's non-blocking output channel.
type viewer struct {
	id     uint64
	sendCh chan []byte
}

// broadcaster fans out PTY output chunks to every attached viewer. A
// producer (the PTY reader goroutine) never blocks: a full viewer channel
// simply drops the chunk for that viewer.
type broadcaster struct {
	mu      sync.Mutex
	viewers map[uint64]*viewer
	nextID  uint64
}

func newBroadcaster() *broadcaster {
	return &broadcaster{viewers: make(map[uint64]*viewer)}
}

// subscribe registers a new viewer and returns its channel and an
// unsubscribe function. Callers must subscribe before reading the backlog
// snapshot so that chunks produced during replay are queued, not lost.
func (b *broadcaster) subscribe() (*viewer, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	v := &viewer{id: b.nextID, sendCh: make(chan []byte, defaultViewerSendBuffer)}
	b.viewers[v.id] = v
	return v, func() { b.unsubscribe(v.id) }
}

func (b *broadcaster) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.viewers, id)
}

// publish delivers chunk to every current viewer without blocking.
func (b *broadcaster) publish(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, v := range b.viewers {
		select {
		case v.sendCh <- chunk:
		default:
			// Slow consumer: drop rather than stall the producer.
		}
	}
}

func (b *broadcaster) viewerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.viewers)
}
