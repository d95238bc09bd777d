package core

// Unified peer discovery: UDP multicast announcements with a disabled-by
// -default port-scan fallback, deduplication by peer id, bounded caches and
// replay protection.
//
// Trust model: multicast results are semi-trusted; a public key is only
// accepted after structural validation, and PromotePeer binds a key verified
// by a handshake. Subnet scanning is
// structurally absent — it cannot verify the protocol without a handshake
// and is hostile to the networks we mesh over.

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	// MaxAddressesPerPeer bounds the address list kept per peer.
	MaxAddressesPerPeer = 10
	// MaxDiscoveredPeers bounds the peer cache.
	MaxDiscoveredPeers = 1000
	// NonceExpirationSecs is the replay-protection window.
	NonceExpirationSecs uint64 = 300
	// MaxTrackedNonces bounds nonce tracker memory.
	MaxTrackedNonces = 10_000

	// MulticastGroup is the ZHTP discovery group.
	MulticastGroup = "224.0.1.75:37775"
)

// DiscoveryProtocol identifies how a peer was found; lower number wins on
// merge.
type DiscoveryProtocol uint8

const (
	ProtocolMulticast DiscoveryProtocol = 1
	ProtocolPortScan  DiscoveryProtocol = 2
)

func (p DiscoveryProtocol) String() string {
	switch p {
	case ProtocolMulticast:
		return "multicast"
	case ProtocolPortScan:
		return "port_scan"
	default:
		return "unknown"
	}
}

//---------------------------------------------------------------------
// Discovery results
//---------------------------------------------------------------------

// DiscoveryResult is one sighting of a peer, possibly partial. The PeerID is
// scan-generated; after a handshake, PromotePeer binds the verified key and
// DID to the entry and leaves the PeerID unchanged.
type DiscoveryResult struct {
	PeerID       uuid.UUID         `json:"peer_id"`
	Addresses    []string          `json:"addresses"`
	PublicKey    *PublicKey        `json:"public_key,omitempty"`
	Protocol     DiscoveryProtocol `json:"protocol"`
	DiscoveredAt uint64            `json:"discovered_at"`
	Capabilities []string          `json:"capabilities,omitempty"`
	MeshPort     uint16            `json:"mesh_port"`
	DID          string            `json:"did,omitempty"`
	DeviceID     string            `json:"device_id,omitempty"`
}

// merge folds a newer sighting into an existing entry:
// addresses union (bounded, oldest dropped), public key adopted only if
// absent, protocol overwritten iff lower priority number, DID/device id
// adopted if absent, discovered_at = min.
func (r *DiscoveryResult) merge(other *DiscoveryResult) {
	for _, addr := range other.Addresses {
		if containsString(r.Addresses, addr) {
			continue
		}
		if len(r.Addresses) >= MaxAddressesPerPeer {
			r.Addresses = r.Addresses[1:]
		}
		r.Addresses = append(r.Addresses, addr)
	}
	if r.PublicKey == nil && other.PublicKey != nil {
		r.PublicKey = other.PublicKey
	}
	if other.Protocol < r.Protocol {
		r.Protocol = other.Protocol
	}
	if r.DID == "" {
		r.DID = other.DID
	}
	if r.DeviceID == "" {
		r.DeviceID = other.DeviceID
	}
	if other.DiscoveredAt < r.DiscoveredAt {
		r.DiscoveredAt = other.DiscoveredAt
	}
	if r.MeshPort == 0 {
		r.MeshPort = other.MeshPort
	}
	if len(r.Capabilities) == 0 {
		r.Capabilities = other.Capabilities
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// NodeAnnouncement is the multicast wire message.
type NodeAnnouncement struct {
	NodeID      uuid.UUID `json:"node_id"`
	MeshPort    uint16    `json:"mesh_port"`
	LocalIP     string    `json:"local_ip"`
	Protocols   []string  `json:"protocols"`
	AnnouncedAt uint64    `json:"announced_at"`
	Nonce       uint64    `json:"nonce"`
}

//---------------------------------------------------------------------
// Nonce tracker – replay protection
//---------------------------------------------------------------------

// NonceTracker detects replayed announcements. Entries expire after the
// window; the map is bounded by evicting the oldest entry.
type NonceTracker struct {
	mu     sync.Mutex
	seen   map[uint64]uint64 // nonce → arrival unix seconds
	window uint64
	max    int
	now    func() uint64
}

func NewNonceTracker() *NonceTracker {
	return &NonceTracker{
		seen:   make(map[uint64]uint64),
		window: NonceExpirationSecs,
		max:    MaxTrackedNonces,
		now:    func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetClock overrides the tracker clock for tests.
func (t *NonceTracker) SetClock(now func() uint64) { t.now = now }

// CheckAndRecord returns true ("fresh") when the nonce has not been seen in
// the window, recording it; false means replay. Expired entries are pruned
// before the check.
func (t *NonceTracker) CheckAndRecord(nonce uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for n, at := range t.seen {
		if now-at > t.window {
			delete(t.seen, n)
		}
	}
	if _, replay := t.seen[nonce]; replay {
		return false
	}
	if len(t.seen) >= t.max {
		var oldestNonce uint64
		oldestAt := ^uint64(0)
		for n, at := range t.seen {
			if at < oldestAt {
				oldestAt, oldestNonce = at, n
			}
		}
		delete(t.seen, oldestNonce)
	}
	t.seen[nonce] = now
	return true
}

// Len reports tracked nonce count.
func (t *NonceTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

//---------------------------------------------------------------------
// Discovery service
//---------------------------------------------------------------------

var (
	discoveredPeersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zhtp_discovery_peers",
		Help: "Currently cached discovered peers.",
	})
	discoveryEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zhtp_discovery_evictions_total",
		Help: "Peers evicted from the discovery cache.",
	})
	discoveryReplays = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zhtp_discovery_replays_total",
		Help: "Announcements rejected by the nonce tracker.",
	})
)

func init() {
	prometheus.MustRegister(discoveredPeersGauge, discoveryEvictions, discoveryReplays)
}

// DiscoveryConfig tunes the service.
type DiscoveryConfig struct {
	AnnounceInterval time.Duration
	MeshPort         uint16
	LocalIP          string
	EnablePortScan   bool // explicit fallback, off by default
}

// DiscoveryService coordinates announcement, ingest and deduplication.
type DiscoveryService struct {
	mu    sync.RWMutex
	peers map[uuid.UUID]*DiscoveryResult

	nonces     *NonceTracker
	reputation *ReputationTracker
	cfg        DiscoveryConfig
	nodeID     uuid.UUID
	logger     *logrus.Entry
	now        func() uint64

	conn   *net.UDPConn
	cancel chan struct{}
}

// NewDiscoveryService builds an idle service; Start joins the multicast
// group and begins announcing.
func NewDiscoveryService(cfg DiscoveryConfig) *DiscoveryService {
	if cfg.AnnounceInterval == 0 {
		cfg.AnnounceInterval = 30 * time.Second
	}
	return &DiscoveryService{
		peers:      make(map[uuid.UUID]*DiscoveryResult),
		nonces:     NewNonceTracker(),
		reputation: NewReputationTracker(MaxDiscoveredPeers),
		cfg:        cfg,
		nodeID:     uuid.New(),
		logger:     logrus.WithField("module", "discovery"),
		now:        func() uint64 { return uint64(time.Now().Unix()) },
		cancel:     make(chan struct{}),
	}
}

// SetClock overrides the service clock for tests.
func (d *DiscoveryService) SetClock(now func() uint64) {
	d.now = now
	d.nonces.SetClock(now)
}

// NodeID returns the local scan-generated id.
func (d *DiscoveryService) NodeID() uuid.UUID { return d.nodeID }

// Reputation exposes the embedded reputation tracker.
func (d *DiscoveryService) Reputation() *ReputationTracker { return d.reputation }

// RegisterPeer ingests one sighting, deduplicating by peer id. The cache is
// bounded: on overflow the entry with the earliest discovered_at is evicted.
func (d *DiscoveryService) RegisterPeer(result DiscoveryResult) error {
	if result.PublicKey != nil {
		if err := result.PublicKey.Validate(); err != nil {
			return fmt.Errorf("rejecting peer with malformed key: %w", err)
		}
	}
	if len(result.Addresses) > MaxAddressesPerPeer {
		result.Addresses = result.Addresses[len(result.Addresses)-MaxAddressesPerPeer:]
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.peers[result.PeerID]; ok {
		existing.merge(&result)
		return nil
	}

	if len(d.peers) >= MaxDiscoveredPeers {
		var victim uuid.UUID
		oldest := ^uint64(0)
		for id, p := range d.peers {
			if p.DiscoveredAt < oldest {
				oldest, victim = p.DiscoveredAt, id
			}
		}
		delete(d.peers, victim)
		discoveryEvictions.Inc()
		d.logger.Debugf("evicted peer %s (discovered_at %d)", victim, oldest)
	}

	cp := result
	d.peers[result.PeerID] = &cp
	discoveredPeersGauge.Set(float64(len(d.peers)))
	return nil
}

// PromotePeer binds the verified public key and its DID to a cached peer
// after a successful handshake, in place; the PeerID stays the same.
func (d *DiscoveryService) PromotePeer(oldID uuid.UUID, verified *PublicKey) error {
	if err := verified.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	peer, ok := d.peers[oldID]
	if !ok {
		return fmt.Errorf("%w: peer %s", ErrNotFound, oldID)
	}
	peer.PublicKey = verified
	peer.DID = verified.DID()
	return nil
}

// Peers snapshots the cache, sorted by discovery time.
func (d *DiscoveryService) Peers() []DiscoveryResult {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]DiscoveryResult, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DiscoveredAt < out[j].DiscoveredAt })
	return out
}

// Peer fetches one cached entry.
func (d *DiscoveryService) Peer(id uuid.UUID) (DiscoveryResult, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.peers[id]
	if !ok {
		return DiscoveryResult{}, false
	}
	return *p, true
}

// VerifiedPeers returns peers that carry a public key and whose reputation is
// trustworthy; this is the set surfaced to the router. A key that arrived
// with a registered result counts the same as one bound by PromotePeer;
// whether a handshake took place is not tracked.
func (d *DiscoveryService) VerifiedPeers() []DiscoveryResult {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]DiscoveryResult, 0, len(d.peers))
	for _, p := range d.peers {
		if p.PublicKey == nil {
			continue
		}
		if !d.reputation.IsTrustworthy(p.PeerID) {
			continue
		}
		out = append(out, *p)
	}
	return out
}

//---------------------------------------------------------------------
// Multicast announcer
//---------------------------------------------------------------------

// Start joins the multicast group, launches the announce loop and the
// ingest loop. Stop terminates both.
func (d *DiscoveryService) Start() error {
	gaddr, err := net.ResolveUDPAddr("udp4", MulticastGroup)
	if err != nil {
		return err
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, gaddr)
	if err != nil {
		return fmt.Errorf("%w: join multicast: %v", ErrTransient, err)
	}
	d.conn = conn

	go d.announceLoop(gaddr)
	go d.ingestLoop()
	d.logger.Infof("discovery started on %s (announce every %s)", MulticastGroup, d.cfg.AnnounceInterval)
	return nil
}

// Stop terminates the loops and leaves the group.
func (d *DiscoveryService) Stop() {
	close(d.cancel)
	if d.conn != nil {
		_ = d.conn.Close()
	}
}

func (d *DiscoveryService) announceLoop(gaddr *net.UDPAddr) {
	ticker := time.NewTicker(d.cfg.AnnounceInterval)
	defer ticker.Stop()

	var nonce uint64
	for {
		select {
		case <-d.cancel:
			return
		case <-ticker.C:
			nonce++
			ann := NodeAnnouncement{
				NodeID:      d.nodeID,
				MeshPort:    d.cfg.MeshPort,
				LocalIP:     d.cfg.LocalIP,
				Protocols:   []string{"zhtp/1"},
				AnnouncedAt: d.now(),
				Nonce:       nonce,
			}
			raw, err := json.Marshal(&ann)
			if err != nil {
				continue
			}
			out, err := net.DialUDP("udp4", nil, gaddr)
			if err != nil {
				d.logger.Warnf("announce dial failed: %v", err)
				continue
			}
			if _, err := out.Write(raw); err != nil {
				d.logger.Warnf("announce write failed: %v", err)
			}
			_ = out.Close()
		}
	}
}

func (d *DiscoveryService) ingestLoop() {
	buf := make([]byte, 2048)
	for {
		select {
		case <-d.cancel:
			return
		default:
		}
		_ = d.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, src, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		var ann NodeAnnouncement
		if err := json.Unmarshal(buf[:n], &ann); err != nil {
			continue
		}
		if ann.NodeID == d.nodeID {
			continue
		}
		if !d.nonces.CheckAndRecord(ann.Nonce) {
			discoveryReplays.Inc()
			d.logger.Debugf("replayed announcement from %s dropped", src)
			continue
		}
		addr := src.IP.String()
		if ann.LocalIP != "" {
			addr = ann.LocalIP
		}
		_ = d.RegisterPeer(DiscoveryResult{
			PeerID:       ann.NodeID,
			Addresses:    []string{fmt.Sprintf("%s:%d", addr, ann.MeshPort)},
			Protocol:     ProtocolMulticast,
			DiscoveredAt: d.now(),
			Capabilities: ann.Protocols,
			MeshPort:     ann.MeshPort,
		})
	}
}

//---------------------------------------------------------------------
// Port-scan fallback (explicit, off by default)
//---------------------------------------------------------------------

// ProbePeer dials one explicit host:port and records it on success. This is
// the only scanning the service does — enumerating subnets is forbidden.
func (d *DiscoveryService) ProbePeer(address string, port uint16) error {
	if !d.cfg.EnablePortScan {
		return fmt.Errorf("%w: port scan fallback disabled", ErrUnauthorized)
	}
	target := fmt.Sprintf("%s:%d", address, port)
	conn, err := net.DialTimeout("tcp", target, 2*time.Second)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	_ = conn.Close()
	return d.RegisterPeer(DiscoveryResult{
		PeerID:       uuid.New(),
		Addresses:    []string{target},
		Protocol:     ProtocolPortScan,
		DiscoveredAt: d.now(),
		MeshPort:     port,
	})
}
