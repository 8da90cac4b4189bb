package timesync

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/roach88/ndicore/internal/clocktype"
	"github.com/roach88/ndicore/internal/epoch"
	"github.com/roach88/ndicore/internal/ident"
	"github.com/roach88/ndicore/internal/ndierr"
)

// Edge costs of the built-in edges.
const (
	IntraEpochCost  = 0
	GlobalClockCost = 1
)

// intervalTolerance absorbs rounding when checking that a converted time
// lies inside an epoch.
const intervalTolerance = 1e-9

// Referent is anything the graph can address: probes, elements and other
// epoch sources.
type Referent interface {
	ID() string
	EpochTable(ctx context.Context) ([]epoch.Entry, error)
}

// TimeRef is a point in one clock domain of a referent. Epoch may be empty
// for global clocks.
type TimeRef struct {
	Referent string              `json:"referent"`
	Clock    clocktype.ClockType `json:"clock_type"`
	Epoch    string              `json:"epoch_id,omitempty"`
	T        float64             `json:"time"`
}

// Target names the clock domain to convert into. An empty Epoch picks the
// epoch whose interval holds the converted time.
type Target struct {
	Referent string
	Clock    clocktype.ClockType
	Epoch    string
}

// Edge is a directed mapping between two nodes.
type Edge struct {
	From, To int
	Cost     float64
	Mapping  TimeMapping

	// Source is "intra", "global" or the id of the rule that produced it.
	Source string
}

type ruleEntry struct {
	id   string
	rule Rule
}

type built struct {
	nodes []EpochNode
	index map[nodeKey]int
	adj   [][]Edge
}

type nodeKey struct {
	referent string
	epoch    string
	clock    clocktype.ClockType
}

// Graph converts times between referents. The node and edge sets are
// built lazily and dropped whenever referents or rules change.
type Graph struct {
	mu        sync.Mutex
	referents []Referent
	rules     []ruleEntry
	cached    *built
	logger    *slog.Logger
}

// NewGraph returns an empty graph.
func NewGraph(logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{logger: logger}
}

// AddReferent adds r, replacing a referent with the same id.
func (g *Graph) AddReferent(r Referent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, have := range g.referents {
		if have.ID() == r.ID() {
			g.referents[i] = r
			g.cached = nil
			return
		}
	}
	g.referents = append(g.referents, r)
	g.cached = nil
}

// RemoveReferent drops the referent with id.
func (g *Graph) RemoveReferent(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, have := range g.referents {
		if have.ID() == id {
			g.referents = append(g.referents[:i], g.referents[i+1:]...)
			g.cached = nil
			return true
		}
	}
	return false
}

// AddRule registers r under id, minting one when id is empty. Rules
// registered earlier win cost ties.
func (g *Graph) AddRule(id string, r Rule) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id == "" {
		id = ident.NewString()
	}
	for _, have := range g.rules {
		if have.id == id {
			return "", ndierr.AlreadyExists("timesync.add_rule", "syncrule", id)
		}
	}
	g.rules = append(g.rules, ruleEntry{id: id, rule: r})
	g.cached = nil
	return id, nil
}

// RemoveRule unregisters the rule with id.
func (g *Graph) RemoveRule(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, have := range g.rules {
		if have.id == id {
			g.rules = append(g.rules[:i], g.rules[i+1:]...)
			g.cached = nil
			return nil
		}
	}
	return ndierr.NotFound("timesync.remove_rule", "syncrule", id)
}

// RuleIDs lists rule ids in registration order.
func (g *Graph) RuleIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, len(g.rules))
	for i, r := range g.rules {
		ids[i] = r.id
	}
	return ids
}

// Invalidate drops the built graph, for example after epochs change on
// disk.
func (g *Graph) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cached = nil
}

// Nodes returns the graph nodes, building the graph if needed.
func (g *Graph) Nodes(ctx context.Context) ([]EpochNode, error) {
	b, err := g.graph(ctx)
	if err != nil {
		return nil, err
	}
	return append([]EpochNode(nil), b.nodes...), nil
}

// Edges returns every edge leaving the node of (referent, epoch, clock).
func (g *Graph) Edges(ctx context.Context, referent, epochID string, clock clocktype.ClockType) ([]Edge, error) {
	b, err := g.graph(ctx)
	if err != nil {
		return nil, err
	}
	i, ok := b.index[nodeKey{referent, epochID, clock}]
	if !ok {
		return nil, ndierr.New(ndierr.KindUnmappedClock, "timesync.edges", fmt.Sprintf("no node for %s/%s/%s", referent, epochID, clock))
	}
	return append([]Edge(nil), b.adj[i]...), nil
}

func (g *Graph) graph(ctx context.Context) (*built, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cached != nil {
		return g.cached, nil
	}
	b, err := g.build(ctx)
	if err != nil {
		return nil, err
	}
	g.cached = b
	return b, nil
}

// build must be called with g.mu held.
func (g *Graph) build(ctx context.Context) (*built, error) {
	b := &built{index: map[nodeKey]int{}}
	for _, r := range g.referents {
		table, err := r.EpochTable(ctx)
		if err != nil {
			return nil, fmt.Errorf("timesync.build: referent %s: %w", r.ID(), err)
		}
		for _, e := range table {
			for _, c := range e.Clocks {
				if c == clocktype.NoTime || c == clocktype.Inherited {
					continue
				}
				if _, ok := e.Interval(c); !ok {
					continue
				}
				k := nodeKey{r.ID(), e.ID, c}
				if _, dup := b.index[k]; dup {
					continue
				}
				b.index[k] = len(b.nodes)
				b.nodes = append(b.nodes, EpochNode{Referent: r.ID(), Epoch: e, Clock: c})
			}
		}
	}

	best := map[[2]int]Edge{}
	offer := func(e Edge) {
		if have, ok := best[[2]int{e.From, e.To}]; ok && have.Cost <= e.Cost {
			return
		}
		best[[2]int{e.From, e.To}] = e
	}

	for i, a := range b.nodes {
		for j, c := range b.nodes {
			if i == j {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			switch {
			case a.Referent == c.Referent && a.Epoch.ID == c.Epoch.ID:
				offer(Edge{From: i, To: j, Cost: IntraEpochCost, Mapping: Shift(c.Interval()[0] - a.Interval()[0]), Source: "intra"})
			case a.Referent != c.Referent && a.Clock == c.Clock && a.Clock.IsGlobal() && overlaps(a.Interval(), c.Interval()):
				offer(Edge{From: i, To: j, Cost: GlobalClockCost, Mapping: Identity(), Source: "global"})
			}
			for _, re := range g.rules {
				m, cost, ok := re.rule.Apply(a, c)
				if !ok || cost < 0 || math.IsInf(cost, 1) || math.IsNaN(cost) {
					continue
				}
				offer(Edge{From: i, To: j, Cost: cost, Mapping: m, Source: re.id})
			}
		}
	}

	b.adj = make([][]Edge, len(b.nodes))
	for _, e := range best {
		b.adj[e.From] = append(b.adj[e.From], e)
	}
	for _, edges := range b.adj {
		sort.Slice(edges, func(x, y int) bool { return edges[x].To < edges[y].To })
	}
	g.logger.Debug("sync graph built", "nodes", len(b.nodes), "edges", len(best), "rules", len(g.rules))
	return b, nil
}

func overlaps(a, b [2]float64) bool {
	return a[0] <= b[1] && b[0] <= a[1]
}

func contains(iv [2]float64, t float64) bool {
	return t >= iv[0]-intervalTolerance && t <= iv[1]+intervalTolerance
}

// Convert maps from into the target clock. A missing source or target node
// is UNMAPPED_CLOCK; nodes with no path between them are
// UNREACHABLE_CLOCK.
func (g *Graph) Convert(ctx context.Context, from TimeRef, to Target) (TimeRef, error) {
	const op = "timesync.convert"
	if from.Clock.NeedsEpoch() && from.Epoch == "" {
		return TimeRef{}, ndierr.Invalid(op, "clock %s needs an epoch", from.Clock)
	}
	b, err := g.graph(ctx)
	if err != nil {
		return TimeRef{}, err
	}

	src := -1
	if from.Epoch != "" {
		i, ok := b.index[nodeKey{from.Referent, from.Epoch, from.Clock}]
		if !ok {
			return TimeRef{}, unmapped(op, "source", from.Referent, from.Epoch, from.Clock)
		}
		src = i
	} else {
		for i, n := range b.nodes {
			if n.Referent == from.Referent && n.Clock == from.Clock && contains(n.Interval(), from.T) {
				src = i
				break
			}
		}
		if src < 0 {
			return TimeRef{}, unmapped(op, "source", from.Referent, "", from.Clock)
		}
	}

	var targets []int
	for i, n := range b.nodes {
		if n.Referent == to.Referent && n.Clock == to.Clock && (to.Epoch == "" || n.Epoch.ID == to.Epoch) {
			targets = append(targets, i)
		}
	}
	if len(targets) == 0 {
		return TimeRef{}, unmapped(op, "target", to.Referent, to.Epoch, to.Clock)
	}

	dist, prev := shortestPaths(b, src)
	sort.SliceStable(targets, func(x, y int) bool { return dist[targets[x]] < dist[targets[y]] })

	fallback, fallbackT := -1, 0.0
	for _, tgt := range targets {
		if math.IsInf(dist[tgt], 1) {
			break
		}
		m := composePath(prev, src, tgt)
		t := m.Eval(from.T)
		if to.Epoch != "" || contains(b.nodes[tgt].Interval(), t) {
			return g.result(b, tgt, t), nil
		}
		if fallback < 0 {
			fallback, fallbackT = tgt, t
		}
	}
	if fallback >= 0 {
		g.logger.Debug("converted time outside every target epoch", "referent", to.Referent, "clock", to.Clock, "time", fallbackT)
		return g.result(b, fallback, fallbackT), nil
	}
	return TimeRef{}, ndierr.New(ndierr.KindUnreachableClock, op,
		fmt.Sprintf("no path from %s/%s to %s/%s", from.Referent, from.Clock, to.Referent, to.Clock))
}

func (g *Graph) result(b *built, node int, t float64) TimeRef {
	n := b.nodes[node]
	return TimeRef{Referent: n.Referent, Clock: n.Clock, Epoch: n.Epoch.ID, T: t}
}

func unmapped(op, role, referent, epochID string, c clocktype.ClockType) error {
	msg := fmt.Sprintf("%s %s has no %s node", role, referent, c)
	if epochID != "" {
		msg = fmt.Sprintf("%s %s epoch %s has no %s node", role, referent, epochID, c)
	}
	return ndierr.New(ndierr.KindUnmappedClock, op, msg)
}

// composePath walks prev back from dst and composes the edge mappings in
// path order.
func composePath(prev []*Edge, src, dst int) TimeMapping {
	var path []*Edge
	for at := dst; at != src; at = prev[at].From {
		path = append(path, prev[at])
	}
	m := Identity()
	for i := len(path) - 1; i >= 0; i-- {
		m = m.Then(path[i].Mapping)
	}
	return m
}

// shortestPaths is Dijkstra from src over non-negative costs.
func shortestPaths(b *built, src int) ([]float64, []*Edge) {
	dist := make([]float64, len(b.nodes))
	prev := make([]*Edge, len(b.nodes))
	for i := range dist {
		dist[i] = math.Inf(1)
	}
	dist[src] = 0
	pq := &nodeQueue{{node: src, dist: 0}}
	for pq.Len() > 0 {
		cur := heap.Pop(pq).(queueItem)
		if cur.dist > dist[cur.node] {
			continue
		}
		for i := range b.adj[cur.node] {
			e := &b.adj[cur.node][i]
			if d := cur.dist + e.Cost; d < dist[e.To] {
				dist[e.To] = d
				prev[e.To] = e
				heap.Push(pq, queueItem{node: e.To, dist: d})
			}
		}
	}
	return dist, prev
}

type queueItem struct {
	node int
	dist float64
}

type nodeQueue []queueItem

func (q nodeQueue) Len() int { return len(q) }
func (q nodeQueue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	return q[i].node < q[j].node
}
func (q nodeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *nodeQueue) Push(x any)   { *q = append(*q, x.(queueItem)) }
func (q *nodeQueue) Pop() any {
	old := *q
	item := old[len(old)-1]
	*q = old[:len(old)-1]
	return item
}
