package core

// Multi-hop mesh routing: topology graph, pathfinding algorithms, path cache
// and adaptive algorithm selection.
//
// Topology updates take the write lock and rebuild the graph atomically;
// pathfinders hold the read lock for the duration of one search and never
// mutate the graph. Cache writes are ordered after the topology read lock is
// released.

import (
	"container/heap"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

//---------------------------------------------------------------------
// Graph model
//---------------------------------------------------------------------

// nodeKey indexes graph structures by the peer's 32-byte key id.
type nodeKey string

func keyOf(pk *PublicKey) nodeKey { return nodeKey(pk.KeyID) }

func shortKey(k nodeKey) string {
	if len(k) >= 4 {
		return hex.EncodeToString([]byte(k[:4]))
	}
	return hex.EncodeToString([]byte(k))
}

// NodeCapabilities describe a peer's routing resources.
type NodeCapabilities struct {
	Protocols          []string `json:"protocols"`
	MaxBandwidth       uint64   `json:"max_bandwidth"`
	AvailableBandwidth uint64   `json:"available_bandwidth"`
	RoutingCapacity    uint32   `json:"routing_capacity"`
	EnergyLevel        *float32 `json:"energy_level,omitempty"`
}

// NetworkNode is one vertex in the topology graph.
type NetworkNode struct {
	NodeID           PublicKey        `json:"node_id"`
	Capabilities     NodeCapabilities `json:"capabilities"`
	ReliabilityScore float64          `json:"reliability_score"`
	TrafficRouted    uint64           `json:"traffic_routed"`
	Availability     float64          `json:"availability"`
}

// EdgeQualityMetrics feed the routing weight.
type EdgeQualityMetrics struct {
	LatencyMS         uint32   `json:"latency_ms"`
	Bandwidth         uint64   `json:"bandwidth"`
	PacketLossPercent float32  `json:"packet_loss_percent"`
	Stability         float64  `json:"stability"`
	SignalStrength    *float64 `json:"signal_strength,omitempty"`
}

// NetworkEdge is a directed connection between two peers. Every edge has a
// matching entry in the source's adjacency set.
type NetworkEdge struct {
	Source      PublicKey          `json:"source"`
	Destination PublicKey          `json:"destination"`
	Protocol    string             `json:"protocol"`
	Weight      float64            `json:"weight"`
	Quality     EdgeQualityMetrics `json:"quality_metrics"`
	LastUpdated uint64             `json:"last_updated"`
}

type edgeKey struct{ from, to nodeKey }

// TopologyGraph holds the routable view of the mesh. Version increments on
// every rebuild.
type TopologyGraph struct {
	nodes     map[nodeKey]*NetworkNode
	edges     map[edgeKey]*NetworkEdge
	adjacency map[nodeKey]map[nodeKey]struct{}
	version   uint64
}

func newTopologyGraph() *TopologyGraph {
	return &TopologyGraph{
		nodes:     make(map[nodeKey]*NetworkNode),
		edges:     make(map[edgeKey]*NetworkEdge),
		adjacency: make(map[nodeKey]map[nodeKey]struct{}),
	}
}

//---------------------------------------------------------------------
// Traffic statistics
//---------------------------------------------------------------------

// NodeTraffic tracks per-node load for load-aware routing.
type NodeTraffic struct {
	MessagesRouted   uint64  `json:"messages_routed"`
	BytesRouted      uint64  `json:"bytes_routed"`
	CurrentLoadPct   float32 `json:"current_load_percent"`
	AverageLatencyMS uint32  `json:"average_latency_ms"`
	CongestionLevel  float64 `json:"congestion_level"`
}

// EdgeTraffic tracks per-edge utilization.
type EdgeTraffic struct {
	MessagesSent        uint64  `json:"messages_sent"`
	BytesSent           uint64  `json:"bytes_sent"`
	UtilizationPercent  float32 `json:"utilization_percent"`
	DeliverySuccessRate float64 `json:"delivery_success_rate"`
	AverageDeliveryMS   uint32  `json:"average_delivery_time_ms"`
}

// GlobalTrafficMetrics summarise the network.
type GlobalTrafficMetrics struct {
	TotalMessagesRouted uint64  `json:"total_messages_routed"`
	TotalBytesRouted    uint64  `json:"total_bytes_routed"`
	AveragePathLength   float64 `json:"average_path_length"`
	NetworkUtilization  float32 `json:"network_utilization_percent"`
	DeliverySuccessRate float64 `json:"overall_delivery_success_rate"`
}

type trafficStatistics struct {
	nodeTraffic map[nodeKey]*NodeTraffic
	edgeTraffic map[edgeKey]*EdgeTraffic
	global      GlobalTrafficMetrics
}

//---------------------------------------------------------------------
// Cache & configuration
//---------------------------------------------------------------------

// CachedPath is a previously computed route with its quality envelope. An
// entry is valid iff now − CachedAt < ValiditySeconds.
type CachedPath struct {
	Hops            []PublicKey `json:"hops"`
	QualityScore    float64     `json:"quality_score"`
	TotalLatencyMS  uint32      `json:"total_latency_ms"`
	Bandwidth       uint64      `json:"bandwidth"`
	CachedAt        uint64      `json:"cached_at"`
	ValiditySeconds uint64      `json:"validity_seconds"`
	UsageCount      uint32      `json:"usage_count"`
}

// RoutingAlgorithm is the closed set of pathfinders.
type RoutingAlgorithm string

const (
	AlgorithmDijkstra  RoutingAlgorithm = "dijkstra"
	AlgorithmAStar     RoutingAlgorithm = "astar"
	AlgorithmBFS       RoutingAlgorithm = "bfs"
	AlgorithmLoadAware RoutingAlgorithm = "load_aware"
	AlgorithmAdaptive  RoutingAlgorithm = "adaptive"
)

// RoutingConfiguration tunes the router.
type RoutingConfiguration struct {
	MaxHopCount         uint8
	AlgorithmPreference RoutingAlgorithm
	QualityPreference   float64
	LoadBalancing       bool
	AdaptiveRouting     bool
	CacheTimeoutSeconds uint64
}

// DefaultRoutingConfiguration mirrors production defaults.
func DefaultRoutingConfiguration() RoutingConfiguration {
	return RoutingConfiguration{
		MaxHopCount:         10,
		AlgorithmPreference: AlgorithmAdaptive,
		QualityPreference:   0.7,
		LoadBalancing:       true,
		AdaptiveRouting:     true,
		CacheTimeoutSeconds: 300,
	}
}

// RouteHop is one step of a resolved route, handed to the data plane.
type RouteHop struct {
	PeerID    PublicKey `json:"peer_id"`
	Protocol  string    `json:"protocol"`
	RelayID   *string   `json:"relay_id,omitempty"`
	LatencyMS uint32    `json:"latency_ms"`
}

// MeshConnection is the live-connection view the discovery layer feeds into
// topology updates.
type MeshConnection struct {
	Peer              PublicKey
	Protocol          string
	LatencyMS         uint32
	BandwidthCapacity uint64
	StabilityScore    float64
	SignalStrength    float64
	DataTransferred   uint64
	ConnectedAt       uint64
}

// RoutingStatistics is a point-in-time router snapshot.
type RoutingStatistics struct {
	TotalNodes          int     `json:"total_nodes"`
	TotalEdges          int     `json:"total_edges"`
	CachedPaths         int     `json:"cached_paths"`
	TotalMessagesRouted uint64  `json:"total_messages_routed"`
	AveragePathLength   float64 `json:"average_path_length"`
	NetworkUtilization  float32 `json:"network_utilization"`
	DeliverySuccessRate float64 `json:"delivery_success_rate"`
}

//---------------------------------------------------------------------
// Router
//---------------------------------------------------------------------

// MultiHopRouter finds routes across the mesh overlay.
type MultiHopRouter struct {
	graphMu sync.RWMutex
	graph   *TopologyGraph

	cacheMu sync.Mutex
	cache   map[edgeKey]*CachedPath

	statsMu sync.RWMutex
	stats   *trafficStatistics

	configMu sync.RWMutex
	config   RoutingConfiguration

	now    func() uint64
	logger *logrus.Entry
}

// NewMultiHopRouter builds an empty router with default configuration.
func NewMultiHopRouter() *MultiHopRouter {
	return &MultiHopRouter{
		graph: newTopologyGraph(),
		cache: make(map[edgeKey]*CachedPath),
		stats: &trafficStatistics{
			nodeTraffic: make(map[nodeKey]*NodeTraffic),
			edgeTraffic: make(map[edgeKey]*EdgeTraffic),
			global:      GlobalTrafficMetrics{DeliverySuccessRate: 1.0},
		},
		config: DefaultRoutingConfiguration(),
		now:    func() uint64 { return uint64(time.Now().Unix()) },
		logger: logrus.WithField("module", "router"),
	}
}

// SetClock overrides the router clock; tests use it to drive TTL expiry.
func (r *MultiHopRouter) SetClock(now func() uint64) { r.now = now }

// SetConfiguration replaces the routing configuration.
func (r *MultiHopRouter) SetConfiguration(cfg RoutingConfiguration) {
	r.configMu.Lock()
	r.config = cfg
	r.configMu.Unlock()
}

// NodeConnections couples a source peer with its live outbound connections.
type NodeConnections struct {
	Source      PublicKey
	Connections []MeshConnection
}

// UpdateTopology atomically rebuilds the graph from the live connection set.
// Existing cache entries survive but expire on their own TTL.
func (r *MultiHopRouter) UpdateTopology(connections []NodeConnections) {
	r.graphMu.Lock()
	defer r.graphMu.Unlock()

	r.graph.version++
	r.graph.nodes = make(map[nodeKey]*NetworkNode)
	r.graph.edges = make(map[edgeKey]*NetworkEdge)
	r.graph.adjacency = make(map[nodeKey]map[nodeKey]struct{})

	addNode := func(pk PublicKey, conn *MeshConnection) {
		k := keyOf(&pk)
		if _, exists := r.graph.nodes[k]; exists {
			return
		}
		node := &NetworkNode{
			NodeID:           pk,
			ReliabilityScore: 0.95,
			Availability:     0.95,
		}
		if conn != nil {
			node.Capabilities = NodeCapabilities{
				Protocols:          []string{conn.Protocol},
				MaxBandwidth:       conn.BandwidthCapacity,
				AvailableBandwidth: conn.BandwidthCapacity / 2,
				RoutingCapacity:    100,
			}
			node.ReliabilityScore = conn.StabilityScore
			node.TrafficRouted = conn.DataTransferred
		}
		r.graph.nodes[k] = node
	}

	for ci := range connections {
		source := &connections[ci].Source
		addNode(*source, nil)
		for i := range connections[ci].Connections {
			conn := &connections[ci].Connections[i]
			addNode(conn.Peer, conn)

			sk, dk := keyOf(source), keyOf(&conn.Peer)
			sig := conn.SignalStrength
			edge := &NetworkEdge{
				Source:      *source,
				Destination: conn.Peer,
				Protocol:    conn.Protocol,
				Weight:      edgeWeight(conn),
				Quality: EdgeQualityMetrics{
					LatencyMS:         conn.LatencyMS,
					Bandwidth:         conn.BandwidthCapacity,
					PacketLossPercent: float32(1.0 - conn.StabilityScore),
					Stability:         conn.StabilityScore,
					SignalStrength:    &sig,
				},
				LastUpdated: conn.ConnectedAt,
			}
			r.graph.edges[edgeKey{sk, dk}] = edge
			if r.graph.adjacency[sk] == nil {
				r.graph.adjacency[sk] = make(map[nodeKey]struct{})
			}
			r.graph.adjacency[sk][dk] = struct{}{}
		}
	}

	r.logger.Infof("topology updated: %d nodes, %d edges (version %d)",
		len(r.graph.nodes), len(r.graph.edges), r.graph.version)
}

// edgeWeight combines latency, stability and bandwidth; lower is preferred.
func edgeWeight(conn *MeshConnection) float64 {
	latency := float64(conn.LatencyMS) / 1000.0
	stability := 1.0 - conn.StabilityScore
	bandwidth := 0.0
	if conn.BandwidthCapacity > 0 {
		bandwidth = 1.0 / (float64(conn.BandwidthCapacity) / 1_000_000.0)
	}
	return latency + stability + bandwidth
}

// TopologyVersion exposes the current graph version.
func (r *MultiHopRouter) TopologyVersion() uint64 {
	r.graphMu.RLock()
	defer r.graphMu.RUnlock()
	return r.graph.version
}

//---------------------------------------------------------------------
// Pathfinding entry point
//---------------------------------------------------------------------

// FindPath resolves a route from source to destination for a message of the
// given size. Cached paths are preferred while valid; the algorithm is
// chosen per configuration or adaptively. Returns ErrNotFound when the mesh
// has no route.
func (r *MultiHopRouter) FindPath(source, destination *PublicKey, messageSize uint64) ([]RouteHop, error) {
	r.logger.Debugf("finding path %s → %s", shortKey(keyOf(source)), shortKey(keyOf(destination)))

	if cached := r.getCachedPath(source, destination); cached != nil {
		r.logger.Infof("using cached path (%d hops, quality %.2f)", len(cached.Hops), cached.QualityScore)
		keys := make([]nodeKey, len(cached.Hops))
		for i := range cached.Hops {
			keys[i] = keyOf(&cached.Hops[i])
		}
		return r.pathToRouteHops(keys)
	}

	r.configMu.RLock()
	cfg := r.config
	r.configMu.RUnlock()

	algorithm := cfg.AlgorithmPreference
	if cfg.AdaptiveRouting || algorithm == AlgorithmAdaptive {
		algorithm = r.selectAdaptiveAlgorithm()
	}

	path, err := r.findWithAlgorithm(algorithm, source, destination, messageSize)
	if err != nil {
		return nil, err
	}
	if cfg.MaxHopCount > 0 && len(path) > int(cfg.MaxHopCount)+1 {
		return nil, fmt.Errorf("%w: path exceeds max hop count %d", ErrNotFound, cfg.MaxHopCount)
	}

	r.cachePath(source, destination, path, cfg.CacheTimeoutSeconds)

	hops, err := r.pathToRouteHops(path)
	if err != nil {
		return nil, err
	}
	r.logger.Infof("found path: %d hops using %s", len(hops), algorithm)
	return hops, nil
}

// FindPathWith forces a specific algorithm, bypassing the cache. Used by
// tests and diagnostics.
func (r *MultiHopRouter) FindPathWith(algorithm RoutingAlgorithm, source, destination *PublicKey, messageSize uint64) ([]RouteHop, error) {
	path, err := r.findWithAlgorithm(algorithm, source, destination, messageSize)
	if err != nil {
		return nil, err
	}
	return r.pathToRouteHops(path)
}

func (r *MultiHopRouter) findWithAlgorithm(algorithm RoutingAlgorithm, source, destination *PublicKey, messageSize uint64) ([]nodeKey, error) {
	switch algorithm {
	case AlgorithmDijkstra:
		return r.dijkstra(source, destination)
	case AlgorithmAStar:
		return r.astar(source, destination)
	case AlgorithmBFS:
		return r.breadthFirst(source, destination)
	case AlgorithmLoadAware:
		return r.loadAware(source, destination, messageSize)
	case AlgorithmAdaptive:
		return r.findWithAlgorithm(r.selectAdaptiveAlgorithm(), source, destination, messageSize)
	default:
		return r.dijkstra(source, destination)
	}
}

// selectAdaptiveAlgorithm inspects network conditions:
// high congestion → LoadAware, sparse connectivity → Dijkstra, high
// utilization → BFS, otherwise A*.
func (r *MultiHopRouter) selectAdaptiveAlgorithm() RoutingAlgorithm {
	r.statsMu.RLock()
	avgCongestion := 0.0
	if n := len(r.stats.nodeTraffic); n > 0 {
		for _, t := range r.stats.nodeTraffic {
			avgCongestion += t.CongestionLevel
		}
		avgCongestion /= float64(n)
	}
	utilization := r.stats.global.NetworkUtilization
	r.statsMu.RUnlock()

	r.graphMu.RLock()
	avgConnectivity := 0.0
	if n := len(r.graph.adjacency); n > 0 {
		for _, neighbors := range r.graph.adjacency {
			avgConnectivity += float64(len(neighbors))
		}
		avgConnectivity /= float64(n)
	}
	r.graphMu.RUnlock()

	switch {
	case avgCongestion > 0.7:
		return AlgorithmLoadAware
	case avgConnectivity < 3.0:
		return AlgorithmDijkstra
	case utilization > 80.0:
		return AlgorithmBFS
	default:
		return AlgorithmAStar
	}
}

//---------------------------------------------------------------------
// Algorithms
//---------------------------------------------------------------------

type pathState struct {
	node nodeKey
	cost float64
	hops uint8
	path []nodeKey
}

type pathHeap []*pathState

func (h pathHeap) Len() int            { return len(h) }
func (h pathHeap) Less(i, j int) bool  { return h[i].cost < h[j].cost }
func (h pathHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pathHeap) Push(x interface{}) { *h = append(*h, x.(*pathState)) }
func (h *pathHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (r *MultiHopRouter) dijkstra(source, destination *PublicKey) ([]nodeKey, error) {
	r.graphMu.RLock()
	defer r.graphMu.RUnlock()

	src, dst := keyOf(source), keyOf(destination)
	dist := make(map[nodeKey]float64, len(r.graph.nodes))

	h := &pathHeap{{node: src, path: []nodeKey{src}}}
	heap.Init(h)
	dist[src] = 0

	for h.Len() > 0 {
		state := heap.Pop(h).(*pathState)
		if state.node == dst {
			return state.path, nil
		}
		if d, ok := dist[state.node]; ok && state.cost > d {
			continue
		}
		for neighbor := range r.graph.adjacency[state.node] {
			edge, ok := r.graph.edges[edgeKey{state.node, neighbor}]
			if !ok {
				continue
			}
			alt := state.cost + edge.Weight
			if d, ok := dist[neighbor]; !ok || alt < d {
				dist[neighbor] = alt
				heap.Push(h, &pathState{
					node: neighbor,
					cost: alt,
					hops: state.hops + 1,
					path: appendPath(state.path, neighbor),
				})
			}
		}
	}
	return nil, fmt.Errorf("%w: no path from %s to %s", ErrNotFound, shortKey(src), shortKey(dst))
}

func (r *MultiHopRouter) astar(source, destination *PublicKey) ([]nodeKey, error) {
	r.graphMu.RLock()
	defer r.graphMu.RUnlock()

	src, dst := keyOf(source), keyOf(destination)
	gScore := map[nodeKey]float64{src: 0}

	h := &pathHeap{{node: src, cost: r.heuristic(src, dst), path: []nodeKey{src}}}
	heap.Init(h)

	for h.Len() > 0 {
		state := heap.Pop(h).(*pathState)
		if state.node == dst {
			return state.path, nil
		}
		for neighbor := range r.graph.adjacency[state.node] {
			edge, ok := r.graph.edges[edgeKey{state.node, neighbor}]
			if !ok {
				continue
			}
			tentative := gScore[state.node] + edge.Weight
			if g, ok := gScore[neighbor]; !ok || tentative < g {
				gScore[neighbor] = tentative
				heap.Push(h, &pathState{
					node: neighbor,
					cost: tentative + r.heuristic(neighbor, dst),
					hops: state.hops + 1,
					path: appendPath(state.path, neighbor),
				})
			}
		}
	}
	return nil, fmt.Errorf("%w: no path from %s to %s", ErrNotFound, shortKey(src), shortKey(dst))
}

// heuristic estimates remaining cost for A*: the direct edge weight when one
// exists (slightly optimistic), else a reliability-derived estimate, else a
// large constant. Callers hold the graph read lock.
func (r *MultiHopRouter) heuristic(from, to nodeKey) float64 {
	if edge, ok := r.graph.edges[edgeKey{from, to}]; ok {
		return edge.Weight * 0.8
	}
	fromNode, okFrom := r.graph.nodes[from]
	toNode, okTo := r.graph.nodes[to]
	if okFrom && okTo {
		capability := (fromNode.ReliabilityScore + toNode.ReliabilityScore) / 2.0
		if capability > 0 {
			return 1.0 / capability
		}
	}
	return 10.0
}

func (r *MultiHopRouter) breadthFirst(source, destination *PublicKey) ([]nodeKey, error) {
	r.graphMu.RLock()
	defer r.graphMu.RUnlock()

	src, dst := keyOf(source), keyOf(destination)
	visited := map[nodeKey]struct{}{src: {}}
	queue := [][]nodeKey{{src}}

	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]
		current := path[len(path)-1]
		if current == dst {
			return path, nil
		}
		for neighbor := range r.graph.adjacency[current] {
			if _, seen := visited[neighbor]; seen {
				continue
			}
			visited[neighbor] = struct{}{}
			queue = append(queue, appendPath(path, neighbor))
		}
	}
	return nil, fmt.Errorf("%w: no path from %s to %s", ErrNotFound, shortKey(src), shortKey(dst))
}

func (r *MultiHopRouter) loadAware(source, destination *PublicKey, messageSize uint64) ([]nodeKey, error) {
	r.statsMu.RLock()
	loadOf := func(node nodeKey, e edgeKey) float64 {
		multiplier := 1.0
		if t, ok := r.stats.nodeTraffic[node]; ok {
			multiplier *= 1.0 + t.CongestionLevel
		}
		if t, ok := r.stats.edgeTraffic[e]; ok {
			multiplier *= 1.0 + float64(t.UtilizationPercent)/100.0
		}
		return multiplier
	}
	defer r.statsMu.RUnlock()

	r.graphMu.RLock()
	defer r.graphMu.RUnlock()

	src, dst := keyOf(source), keyOf(destination)
	dist := map[nodeKey]float64{src: 0}

	h := &pathHeap{{node: src, path: []nodeKey{src}}}
	heap.Init(h)

	for h.Len() > 0 {
		state := heap.Pop(h).(*pathState)
		if state.node == dst {
			return state.path, nil
		}
		for neighbor := range r.graph.adjacency[state.node] {
			ek := edgeKey{state.node, neighbor}
			edge, ok := r.graph.edges[ek]
			if !ok {
				continue
			}
			alt := state.cost + edge.Weight*loadOf(neighbor, ek)
			if d, ok := dist[neighbor]; !ok || alt < d {
				dist[neighbor] = alt
				heap.Push(h, &pathState{
					node: neighbor,
					cost: alt,
					hops: state.hops + 1,
					path: appendPath(state.path, neighbor),
				})
			}
		}
	}
	_ = messageSize
	return nil, fmt.Errorf("%w: no path from %s to %s", ErrNotFound, shortKey(src), shortKey(dst))
}

func appendPath(path []nodeKey, next nodeKey) []nodeKey {
	out := make([]nodeKey, len(path)+1)
	copy(out, path)
	out[len(path)] = next
	return out
}

//---------------------------------------------------------------------
// Route hop conversion
//---------------------------------------------------------------------

func (r *MultiHopRouter) pathToRouteHops(keys []nodeKey) ([]RouteHop, error) {
	r.graphMu.RLock()
	defer r.graphMu.RUnlock()

	hops := make([]RouteHop, 0, len(keys))
	for i := 1; i < len(keys); i++ {
		edge, ok := r.graph.edges[edgeKey{keys[i-1], keys[i]}]
		if !ok {
			return nil, fmt.Errorf("%w: missing edge %s → %s", ErrNotFound, shortKey(keys[i-1]), shortKey(keys[i]))
		}
		hops = append(hops, RouteHop{
			PeerID:    edge.Destination,
			Protocol:  edge.Protocol,
			LatencyMS: edge.Quality.LatencyMS,
		})
	}
	return hops, nil
}

//---------------------------------------------------------------------
// Path cache
//---------------------------------------------------------------------

func (r *MultiHopRouter) getCachedPath(source, destination *PublicKey) *CachedPath {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	key := edgeKey{keyOf(source), keyOf(destination)}
	cached, ok := r.cache[key]
	if !ok {
		return nil
	}
	if r.now()-cached.CachedAt >= cached.ValiditySeconds {
		delete(r.cache, key)
		return nil
	}
	cached.UsageCount++
	return cached
}

func (r *MultiHopRouter) cachePath(source, destination *PublicKey, path []nodeKey, ttl uint64) {
	hops := make([]PublicKey, 0, len(path))
	quality, latency, bandwidth := r.pathEnvelope(path)
	r.graphMu.RLock()
	for _, k := range path {
		if node, ok := r.graph.nodes[k]; ok {
			hops = append(hops, node.NodeID)
		}
	}
	r.graphMu.RUnlock()

	if ttl == 0 {
		ttl = 300
	}
	entry := &CachedPath{
		Hops:            hops,
		QualityScore:    quality,
		TotalLatencyMS:  latency,
		Bandwidth:       bandwidth,
		CachedAt:        r.now(),
		ValiditySeconds: ttl,
	}

	r.cacheMu.Lock()
	r.cache[edgeKey{keyOf(source), keyOf(destination)}] = entry
	r.cacheMu.Unlock()
}

// pathEnvelope computes quality (mean stability), total latency (sum) and
// bandwidth (bottleneck minimum) along a path.
func (r *MultiHopRouter) pathEnvelope(path []nodeKey) (float64, uint32, uint64) {
	r.graphMu.RLock()
	defer r.graphMu.RUnlock()

	var (
		quality   float64
		latency   uint32
		bandwidth uint64 = ^uint64(0)
		edges     int
	)
	for i := 1; i < len(path); i++ {
		edge, ok := r.graph.edges[edgeKey{path[i-1], path[i]}]
		if !ok {
			continue
		}
		quality += edge.Quality.Stability
		latency += edge.Quality.LatencyMS
		if edge.Quality.Bandwidth < bandwidth {
			bandwidth = edge.Quality.Bandwidth
		}
		edges++
	}
	if edges == 0 {
		return 0, 0, 0
	}
	return quality / float64(edges), latency, bandwidth
}

//---------------------------------------------------------------------
// Statistics
//---------------------------------------------------------------------

// RecordNodeTraffic feeds load-aware routing with fresh congestion data.
func (r *MultiHopRouter) RecordNodeTraffic(node *PublicKey, traffic NodeTraffic) {
	r.statsMu.Lock()
	r.stats.nodeTraffic[keyOf(node)] = &traffic
	r.statsMu.Unlock()
}

// RecordEdgeTraffic updates utilization for one edge.
func (r *MultiHopRouter) RecordEdgeTraffic(from, to *PublicKey, traffic EdgeTraffic) {
	r.statsMu.Lock()
	r.stats.edgeTraffic[edgeKey{keyOf(from), keyOf(to)}] = &traffic
	r.statsMu.Unlock()
}

// SetGlobalMetrics replaces the network-wide metrics snapshot.
func (r *MultiHopRouter) SetGlobalMetrics(metrics GlobalTrafficMetrics) {
	r.statsMu.Lock()
	r.stats.global = metrics
	r.statsMu.Unlock()
}

// Statistics reports a router snapshot.
func (r *MultiHopRouter) Statistics() RoutingStatistics {
	r.graphMu.RLock()
	nodes, edges := len(r.graph.nodes), len(r.graph.edges)
	r.graphMu.RUnlock()

	r.cacheMu.Lock()
	cached := len(r.cache)
	r.cacheMu.Unlock()

	r.statsMu.RLock()
	defer r.statsMu.RUnlock()
	return RoutingStatistics{
		TotalNodes:          nodes,
		TotalEdges:          edges,
		CachedPaths:         cached,
		TotalMessagesRouted: r.stats.global.TotalMessagesRouted,
		AveragePathLength:   r.stats.global.AveragePathLength,
		NetworkUtilization:  r.stats.global.NetworkUtilization,
		DeliverySuccessRate: r.stats.global.DeliverySuccessRate,
	}
}
