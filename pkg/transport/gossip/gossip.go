package gossip

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	mdns "github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/vnykmshr/pacer/pkg/transport"
)

// Options configures the libp2p host behind the store.
type Options struct {
	ListenAddrs     []string
	Bootstrap       []string
	Rendezvous      string
	EnableMDNS      bool
	IdentityKeyFile string

	// TopicPrefix is prepended to every channel name.
	TopicPrefix string

	Logger *slog.Logger
}

// Store is a broker-style transport.Store over GossipSub. Every subscriber
// on every peer receives each message; nothing is retained.
type Store struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
	prefix string

	host host.Host
	ps   *pubsub.PubSub

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	local  map[string]*atomic.Int64
	closed atomic.Bool
}

// New starts a libp2p host, joins GossipSub and connects to bootstrap peers.
// Unreachable bootstrap peers are logged, not fatal.
func New(parent context.Context, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(parent)

	listenAddrs := make([]ma.Multiaddr, 0, len(opts.ListenAddrs))
	for _, s := range opts.ListenAddrs {
		if s == "" {
			continue
		}
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("invalid listen multiaddr %q: %w", s, err)
		}
		listenAddrs = append(listenAddrs, a)
	}
	if len(listenAddrs) == 0 {
		a, _ := ma.NewMultiaddr("/ip4/0.0.0.0/tcp/0")
		listenAddrs = append(listenAddrs, a)
	}

	libp2pOpts := []libp2p.Option{libp2p.ListenAddrs(listenAddrs...)}
	if opts.IdentityKeyFile != "" {
		key, err := loadOrCreateIdentityKey(opts.IdentityKeyFile)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("load identity key: %w", err)
		}
		libp2pOpts = append(libp2pOpts, libp2p.Identity(key))
	}

	h, err := libp2p.New(libp2pOpts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("create gossipsub: %w", err)
	}

	s := &Store{
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		prefix: opts.TopicPrefix,
		host:   h,
		ps:     ps,
		topics: make(map[string]*pubsub.Topic),
		local:  make(map[string]*atomic.Int64),
	}

	if opts.EnableMDNS {
		service := mdns.NewMdnsService(h, opts.Rendezvous, &mdnsNotifee{host: h, logger: logger})
		if err := service.Start(); err != nil {
			logger.Warn("mdns start failed", slog.String("error", err.Error()))
		}
	}

	for _, raw := range opts.Bootstrap {
		if raw == "" {
			continue
		}
		if err := s.Connect(ctx, raw); err != nil {
			logger.Warn("bootstrap connect failed", slog.String("addr", raw), slog.String("error", err.Error()))
			continue
		}
		logger.Info("connected bootstrap peer", slog.String("addr", raw))
	}

	return s, nil
}

// Name implements transport.Store.
func (s *Store) Name() string { return "gossip" }

// Connect dials a peer given its full /p2p/ multiaddr.
func (s *Store) Connect(ctx context.Context, raw string) error {
	addr, err := ma.NewMultiaddr(raw)
	if err != nil {
		return fmt.Errorf("parse multiaddr %q: %w", raw, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return fmt.Errorf("peer info from %q: %w", raw, err)
	}
	return s.host.Connect(ctx, *info)
}

// Push implements transport.Store. Receivers counts topic peers plus local
// subscriptions; zero means the message reached nobody.
func (s *Store) Push(ctx context.Context, channel string, payload []byte) (transport.Receipt, error) {
	if s.closed.Load() {
		return transport.Receipt{}, transport.ErrClosed
	}
	t, err := s.getOrJoinTopic(channel)
	if err != nil {
		return transport.Receipt{}, err
	}
	receivers := int64(len(t.ListPeers())) + s.localCount(channel).Load()
	if err := t.Publish(ctx, payload); err != nil {
		return transport.Receipt{}, fmt.Errorf("publish %s: %w", channel, err)
	}
	return transport.Receipt{Accepted: true, Receivers: receivers, Broadcast: true}, nil
}

// Subscribe implements transport.Store.
func (s *Store) Subscribe(_ context.Context, channel string) (transport.Subscription, error) {
	if s.closed.Load() {
		return nil, transport.ErrClosed
	}
	t, err := s.getOrJoinTopic(channel)
	if err != nil {
		return nil, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	counter := s.localCount(channel)
	counter.Add(1)
	return &subscription{store: s, sub: sub, counter: counter}, nil
}

// Close implements transport.Store.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.topics {
		_ = t.Close()
	}
	return s.host.Close()
}

// PeerID returns this host's peer id.
func (s *Store) PeerID() string {
	return s.host.ID().String()
}

// ListenAddrs returns dialable addresses including the /p2p/ suffix.
func (s *Store) ListenAddrs() []string {
	out := make([]string, 0, len(s.host.Addrs()))
	for _, addr := range s.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", addr.String(), s.host.ID().String()))
	}
	return out
}

// ConnectedPeers returns the ids of connected peers.
func (s *Store) ConnectedPeers() []string {
	peers := s.host.Network().Peers()
	out := make([]string, 0, len(peers))
	for _, pid := range peers {
		out = append(out, pid.String())
	}
	return out
}

// TopicPeers returns how many remote peers are subscribed to channel.
func (s *Store) TopicPeers(channel string) int {
	t, err := s.getOrJoinTopic(channel)
	if err != nil {
		return 0
	}
	return len(t.ListPeers())
}

func (s *Store) getOrJoinTopic(channel string) (*pubsub.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.topics[channel]; ok {
		return t, nil
	}
	t, err := s.ps.Join(s.prefix + channel)
	if err != nil {
		return nil, fmt.Errorf("join topic %s: %w", channel, err)
	}
	s.topics[channel] = t
	return t, nil
}

func (s *Store) localCount(channel string) *atomic.Int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.local[channel]
	if !ok {
		c = new(atomic.Int64)
		s.local[channel] = c
	}
	return c
}

type subscription struct {
	store   *Store
	sub     *pubsub.Subscription
	counter *atomic.Int64
	closed  atomic.Bool
}

func (sub *subscription) Next(ctx context.Context, wait time.Duration) ([]byte, bool, error) {
	if sub.closed.Load() || sub.store.closed.Load() {
		return nil, false, transport.ErrClosed
	}
	if wait <= 0 {
		wait = time.Millisecond
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	msg, err := sub.sub.Next(waitCtx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		if waitCtx.Err() != nil {
			return nil, false, nil
		}
		if sub.store.closed.Load() {
			return nil, false, transport.ErrClosed
		}
		return nil, false, fmt.Errorf("next message: %w", err)
	}
	return append([]byte(nil), msg.Data...), true, nil
}

func (sub *subscription) Close() error {
	if !sub.closed.CompareAndSwap(false, true) {
		return nil
	}
	sub.counter.Add(-1)
	sub.sub.Cancel()
	return nil
}

type mdnsNotifee struct {
	host   host.Host
	logger *slog.Logger
}

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if err := n.host.Connect(context.Background(), info); err != nil {
		n.logger.Debug("mdns connect failed", slog.String("peer", info.ID.String()), slog.String("error", err.Error()))
	}
}

func loadOrCreateIdentityKey(path string) (crypto.PrivKey, error) {
	if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
		key, err := crypto.UnmarshalPrivateKey(b)
		if err != nil {
			return nil, fmt.Errorf("unmarshal private key: %w", err)
		}
		return key, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir key dir: %w", err)
	}
	key, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	raw, err := crypto.MarshalPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	return key, nil
}

var _ transport.Store = (*Store)(nil)
