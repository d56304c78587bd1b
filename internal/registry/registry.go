// Package registry implements the per-shard Peer Registry (spec §4.1): an
// in-memory mapping from peer id to live connection handle, plus a reverse
// index by app for broadcast fan-out. It owns no durable state — the Store
// owns that — only the live socket handles for peers connected to this
// shard.
package registry

import (
	"sync"

	"github.com/Wundero/sinkr/internal/protocol"
)

// Handle is the live-connection side of a registered peer: anything that
// can accept an outbound sink frame. The WebSocket connection in
// internal/api implements this.
type Handle interface {
	// SendFrame serializes and writes frame to the peer's socket. It must
	// not block the caller indefinitely: a saturated outbound buffer is a
	// dead peer per §5's back-pressure rule.
	SendFrame(frame protocol.SinkFrame) error
	// Close tears down the underlying connection with the given close code
	// and reason.
	Close(code int, reason string)
}

// entry pairs a handle with the appId it belongs to, so iterateLocal can
// filter by app without a second index lookup per peer.
type entry struct {
	appID  string
	handle Handle
}

// Registry is safe for concurrent use. Per spec §5, operations against
// different peers may proceed in parallel; operations against the same
// peer are naturally serialized by the caller (the owning shard's command
// loop), so a single RWMutex protecting the maps is sufficient here — it is
// never held across a network send.
type Registry struct {
	mu      sync.RWMutex
	peers   map[string]entry            // peerId -> entry
	byApp   map[string]map[string]struct{} // appId -> set of peerId
}

func New() *Registry {
	return &Registry{
		peers: make(map[string]entry),
		byApp: make(map[string]map[string]struct{}),
	}
}

// Register records a newly-opened connection. Idempotent: registering the
// same peerId again replaces the handle (used by reconnect-with-same-id
// flows the wire protocol does not currently define, but kept for safety).
func (r *Registry) Register(appID, peerID string, handle Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[peerID] = entry{appID: appID, handle: handle}
	set, ok := r.byApp[appID]
	if !ok {
		set = make(map[string]struct{})
		r.byApp[appID] = set
	}
	set[peerID] = struct{}{}
}

// Unregister removes a peer; idempotent per §4.1.
func (r *Registry) Unregister(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[peerID]
	if !ok {
		return
	}
	delete(r.peers, peerID)
	if set, ok := r.byApp[e.appID]; ok {
		delete(set, peerID)
		if len(set) == 0 {
			delete(r.byApp, e.appID)
		}
	}
}

// Lookup returns the handle for a live peer, or nil if it is not
// registered on this shard.
func (r *Registry) Lookup(peerID string) Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peers[peerID].handle
}

// Send writes frame to handle. A failure here means the peer is dead; the
// caller does not remove the Peer row synchronously — that happens when
// the connection's own close callback runs, per §4.1.
func (r *Registry) Send(handle Handle, frame protocol.SinkFrame) error {
	return handle.SendFrame(frame)
}

// LocalPeer is one (peerId, handle) pair returned by IterateLocal.
type LocalPeer struct {
	PeerID string
	Handle Handle
}

// IterateLocal returns a snapshot of every peer registered on this shard
// for appID, for broadcast/global fan-out. The snapshot is taken under a
// read lock and then released before any send — §5 requires the engine to
// observe the subscriber set once and push without re-reading.
func (r *Registry) IterateLocal(appID string) []LocalPeer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byApp[appID]
	out := make([]LocalPeer, 0, len(set))
	for peerID := range set {
		out = append(out, LocalPeer{PeerID: peerID, Handle: r.peers[peerID].handle})
	}
	return out
}

// Count returns the number of peers currently registered on this shard,
// the number the coordinator's ReportShardLoad call reports upward.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
