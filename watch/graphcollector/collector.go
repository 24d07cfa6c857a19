package graphcollector

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/Emyrk/callgraph/callgraph"
)

var _ prometheus.Collector = (*Collector)(nil)

type Collector struct {
	logger      zerolog.Logger
	namespace   string
	constLabels prometheus.Labels
	// TopN limits the number of functions and edges exported. Zero exports
	// everything.
	TopN int

	selfRatio  *prometheus.Desc
	totalRatio *prometheus.Desc
	edgeRatio  *prometheus.Desc
	grandTotal *prometheus.Desc

	lastUpdated prometheus.Gauge
	graph       atomic.Pointer[callgraph.CallGraph]
}

// New returns a collector exporting no graph series until SetGraph is called.
// The labels are added as constants to every metric.
func New(logger zerolog.Logger, namespace string, labels prometheus.Labels) *Collector {
	return &Collector{
		logger:      logger,
		namespace:   namespace,
		constLabels: labels,
		selfRatio: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "function", "self_ratio"),
			"Fraction of all sampled weight spent in the function itself.",
			[]string{"function", "id"},
			labels,
		),
		totalRatio: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "function", "total_ratio"),
			"Fraction of all sampled weight spent in the function or its callees.",
			[]string{"function", "id"},
			labels,
		),
		edgeRatio: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "edge", "ratio"),
			"Fraction of all sampled weight observed on a caller to callee edge.",
			[]string{"caller", "caller_id", "callee", "callee_id"},
			labels,
		),
		grandTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "grand_total"),
			"Sum of all sample weights in the latest profile.",
			nil,
			labels,
		),
		lastUpdated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "watcher",
			Name:        "last_updated_unix_s",
			Help:        "Timestamp in unix seconds of the last call graph update.",
			ConstLabels: labels,
		}),
	}
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.selfRatio
	descs <- c.totalRatio
	descs <- c.edgeRatio
	descs <- c.grandTotal
	c.lastUpdated.Describe(descs)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- c.lastUpdated

	g := c.graph.Load()
	if g == nil {
		return
	}

	ch <- prometheus.MustNewConstMetric(c.grandTotal, prometheus.GaugeValue, float64(g.GrandTotal))
	// Distinct functions may share a name, the id label keeps their series
	// apart.
	for _, n := range c.nodes(g) {
		id := functionID(n)
		c.send(ch, c.selfRatio, n.SelfTimePercentage, n.Function.Name, id)
		c.send(ch, c.totalRatio, n.TotalTimePercentage, n.Function.Name, id)
	}
	for _, e := range c.edges(g) {
		c.send(ch, c.edgeRatio, e.TimePercentage,
			e.Caller.Function.Name, functionID(e.Caller),
			e.Callee.Function.Name, functionID(e.Callee))
	}
}

func (c *Collector) send(ch chan<- prometheus.Metric, desc *prometheus.Desc, value float64, labelValues ...string) {
	pm, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, value, labelValues...)
	if err != nil {
		c.logger.Warn().
			Str("metric", desc.String()).
			Strs("labels", labelValues).
			Err(err).
			Msg("failed to create metric")
		return
	}
	ch <- pm
}

func functionID(n *callgraph.Node) string {
	return strconv.FormatUint(n.Function.ID, 10)
}

func (c *Collector) nodes(g *callgraph.CallGraph) []*callgraph.Node {
	if c.TopN > 0 && len(g.Nodes) > c.TopN {
		return g.Nodes[:c.TopN]
	}
	return g.Nodes
}

func (c *Collector) edges(g *callgraph.CallGraph) []*callgraph.Edge {
	edges := g.SortedEdges()
	if c.TopN > 0 && len(edges) > c.TopN {
		return edges[:c.TopN]
	}
	return edges
}

// SetGraph replaces the exported graph and returns the number of series it
// produces.
func (c *Collector) SetGraph(g *callgraph.CallGraph) (int, error) {
	if g == nil {
		return 0, fmt.Errorf("nil call graph")
	}

	c.lastUpdated.Set(float64(time.Now().Unix()))
	c.graph.Store(g)

	return 1 + 2*len(c.nodes(g)) + len(c.edges(g)), nil
}

// Graph returns the graph currently exported, or nil.
func (c *Collector) Graph() *callgraph.CallGraph {
	return c.graph.Load()
}
