package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Wundero/sinkr/internal/domain"
)

// MemoryStore is an in-memory Store implementation, used by tests and for
// local development without a Postgres instance. Every method is guarded
// by a single mutex; this package never sees the connection volume a real
// shard's Peer Registry does, so a coarse lock is the teacher's own
// tradeoff in smaller stores (see internal/storage/redis.go's TenantKey
// helpers, which assume a single client behind a mutex-free pool).
type MemoryStore struct {
	mu sync.Mutex

	apps     map[string]domain.App
	peers    map[string]domain.Peer // key: appID+"/"+peerID
	channels map[string]domain.Channel // key: appID+"/"+channelID
	channelByName map[string]string // key: appID+"/"+name -> channelID
	subs     map[string]domain.Subscription // key: appID+"/"+peerID+"/"+channelID
	stored   map[string][]domain.StoredMessage // key: appID+"/"+channelID
	shardLoad map[string]int
}

// NewMemoryStore builds an empty store and seeds it with the given apps,
// which in production would be rows maintained by the external tenant
// registry.
func NewMemoryStore(apps ...domain.App) *MemoryStore {
	s := &MemoryStore{
		apps:          make(map[string]domain.App),
		peers:         make(map[string]domain.Peer),
		channels:      make(map[string]domain.Channel),
		channelByName: make(map[string]string),
		subs:          make(map[string]domain.Subscription),
		stored:        make(map[string][]domain.StoredMessage),
		shardLoad:     make(map[string]int),
	}
	for _, a := range apps {
		s.apps[a.ID] = a
	}
	return s
}

func peerKey(appID, peerID string) string    { return appID + "/" + peerID }
func chanKey(appID, channelID string) string { return appID + "/" + channelID }
func chanNameKey(appID, name string) string  { return appID + "/" + name }
func subKey(appID, peerID, channelID string) string {
	return appID + "/" + peerID + "/" + channelID
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) GetApp(ctx context.Context, appID string) (*domain.App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.apps[appID]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

// PutApp is a test/dev convenience absent from the Store interface, used
// to seed apps without constructing a whole tenant registry.
func (s *MemoryStore) PutApp(a domain.App) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps[a.ID] = a
}

func (s *MemoryStore) CreatePeer(ctx context.Context, p *domain.Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.ConnectedAt = now()
	s.peers[peerKey(p.AppID, p.ID)] = *p
	return nil
}

func (s *MemoryStore) GetPeer(ctx context.Context, appID, peerID string) (*domain.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[peerKey(appID, peerID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) ResolvePeer(ctx context.Context, appID, anyID string) (*domain.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.peers[peerKey(appID, anyID)]; ok {
		return &p, nil
	}
	for _, p := range s.peers {
		if p.AppID == appID && p.AuthenticatedUserID != nil && *p.AuthenticatedUserID == anyID {
			cp := p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) AuthenticatePeer(ctx context.Context, appID, peerID, userID string, userInfo []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := peerKey(appID, peerID)
	p, ok := s.peers[k]
	if !ok {
		return ErrNotFound
	}
	p.AuthenticatedUserID = &userID
	p.UserInfo = userInfo
	s.peers[k] = p
	return nil
}

func (s *MemoryStore) DeletePeer(ctx context.Context, appID, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, peerKey(appID, peerID))
	for k, sub := range s.subs {
		if sub.AppID == appID && sub.PeerID == peerID {
			delete(s.subs, k)
		}
	}
	return nil
}

func (s *MemoryStore) ListAppPeers(ctx context.Context, appID string) ([]domain.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Peer
	for _, p := range s.peers {
		if p.AppID == appID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertChannel(ctx context.Context, appID, name string, auth domain.ChannelAuth, store bool) (*domain.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nk := chanNameKey(appID, name)
	if id, ok := s.channelByName[nk]; ok {
		ck := chanKey(appID, id)
		ch := s.channels[ck]
		ch.Auth = auth
		ch.Store = store
		s.channels[ck] = ch
		return &ch, nil
	}
	ch := domain.Channel{ID: uuid.NewString(), AppID: appID, Name: name, Auth: auth, Store: store}
	s.channels[chanKey(appID, ch.ID)] = ch
	s.channelByName[nk] = ch.ID
	return &ch, nil
}

func (s *MemoryStore) GetChannel(ctx context.Context, appID, channelID string) (*domain.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[chanKey(appID, channelID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &ch, nil
}

func (s *MemoryStore) DeleteChannel(ctx context.Context, appID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ck := chanKey(appID, channelID)
	ch, ok := s.channels[ck]
	if !ok {
		return nil
	}
	delete(s.channels, ck)
	delete(s.channelByName, chanNameKey(appID, ch.Name))
	delete(s.stored, ck)
	for k, sub := range s.subs {
		if sub.AppID == appID && sub.ChannelID == channelID {
			delete(s.subs, k)
		}
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, appID, peerID, channelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := subKey(appID, peerID, channelID)
	if _, ok := s.subs[k]; ok {
		return false, nil
	}
	s.subs[k] = domain.Subscription{ID: uuid.NewString(), AppID: appID, PeerID: peerID, ChannelID: channelID}
	return true, nil
}

func (s *MemoryStore) Unsubscribe(ctx context.Context, appID, peerID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := subKey(appID, peerID, channelID)
	if _, ok := s.subs[k]; !ok {
		return ErrNotFound
	}
	delete(s.subs, k)
	return nil
}

func (s *MemoryStore) IsSubscribed(ctx context.Context, appID, peerID, channelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[subKey(appID, peerID, channelID)]
	return ok, nil
}

func (s *MemoryStore) ListChannelSubscriberPeerIDs(ctx context.Context, appID, channelID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, sub := range s.subs {
		if sub.AppID == appID && sub.ChannelID == channelID {
			out = append(out, sub.PeerID)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListPeerChannelIDs(ctx context.Context, appID, peerID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, sub := range s.subs {
		if sub.AppID == appID && sub.PeerID == peerID {
			out = append(out, sub.ChannelID)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateStoredMessage(ctx context.Context, m *domain.StoredMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	k := chanKey(m.AppID, m.ChannelID)
	s.stored[k] = append(s.stored[k], *m)
	return nil
}

func (s *MemoryStore) DeleteStoredMessages(ctx context.Context, appID, channelID string, messageIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := chanKey(appID, channelID)
	if len(messageIDs) == 0 {
		delete(s.stored, k)
		return nil
	}
	want := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = struct{}{}
	}
	var kept []domain.StoredMessage
	for _, m := range s.stored[k] {
		if _, drop := want[m.ID]; !drop {
			kept = append(kept, m)
		}
	}
	s.stored[k] = kept
	return nil
}

func (s *MemoryStore) ListStoredMessageRefs(ctx context.Context, appID, channelID string) ([]domain.StoredMessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := append([]domain.StoredMessage(nil), s.stored[chanKey(appID, channelID)]...)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	out := make([]domain.StoredMessageRef, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, domain.StoredMessageRef{ID: m.ID, Date: m.CreatedAt})
	}
	return out, nil
}

func (s *MemoryStore) GetStoredMessages(ctx context.Context, appID, channelID string, messageIDs []string) ([]domain.StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = struct{}{}
	}
	var out []domain.StoredMessage
	for _, m := range s.stored[chanKey(appID, channelID)] {
		if _, ok := want[m.ID]; ok {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ReportShardLoad(ctx context.Context, handlerID string, connectionCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shardLoad[handlerID] = connectionCount
	return nil
}

func (s *MemoryStore) ListShardLoads(ctx context.Context) ([]domain.ShardLoad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ShardLoad, 0, len(s.shardLoad))
	for id, n := range s.shardLoad {
		out = append(out, domain.ShardLoad{HandlerID: id, ConnectionCount: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HandlerID < out[j].HandlerID })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
