package watch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/elastic/go-freelru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"github.com/Emyrk/callgraph/callgraph"
	"github.com/Emyrk/callgraph/watch/graphcollector"
	"github.com/Emyrk/callgraph/watch/profiling"
)

var _ prometheus.Collector = (*Watcher)(nil)

const graphCacheSize = 16

type SourceOptions struct {
	Name   string `yaml:"name"`
	Path   string `yaml:"path"`
	Format string `yaml:"format"`
	// SampleType selects which pprof sample value is used as the weight.
	// Empty uses the profile's default sample type.
	SampleType    string            `yaml:"sample_type"`
	Interval      time.Duration     `yaml:"interval"`
	RecursionOnce bool              `yaml:"recursion_once"`
	TopN          int               `yaml:"top_n"`
	ConstLabels   prometheus.Labels `yaml:"constant_labels"`
}

// Watcher will watch a profile file on disk and export the call graph built
// from its latest contents.
type Watcher struct {
	Name   string
	Path   string
	Format string

	logger     zerolog.Logger
	interval   time.Duration
	sampleType string
	buildOpts  []callgraph.Option

	reg       *prometheus.Registry
	collector *graphcollector.Collector
	refreshes *prometheus.CounterVec
	// Built graphs keyed by the xxh3 hash of the file contents.
	graphs *freelru.SyncedLRU[uint64, *callgraph.CallGraph]
}

func New(opts SourceOptions, logger zerolog.Logger) (*Watcher, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("missing name field for source")
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("missing path field for %q", opts.Name)
	}

	if opts.Format == "" {
		opts.Format = profiling.FormatFromPath(opts.Path)
	}
	if opts.Format != profiling.FormatPprof && opts.Format != profiling.FormatFolded {
		return nil, fmt.Errorf("unknown format %q for %q", opts.Format, opts.Name)
	}

	if opts.Interval == 0 {
		opts.Interval = time.Minute
	}

	var buildOpts []callgraph.Option
	if opts.RecursionOnce {
		buildOpts = append(buildOpts, callgraph.WithRecursionCountedOnce())
	}

	graphs, err := freelru.NewSynced[uint64, *callgraph.CallGraph](graphCacheSize, func(k uint64) uint32 {
		return uint32(k)
	})
	if err != nil {
		return nil, fmt.Errorf("new graph cache: %w", err)
	}

	constantLabels := prometheus.Labels{
		"source": opts.Name,
	}
	for k, v := range opts.ConstLabels {
		constantLabels[k] = v
	}

	logger = logger.With().
		Str("source", opts.Name).
		Str("path", opts.Path).
		Logger()

	collector := graphcollector.New(logger, "callgraph", constantLabels)
	collector.TopN = opts.TopN

	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "callgraph",
		Subsystem:   "watcher",
		Name:        "refreshes_total",
		Help:        "Number of profile refreshes by result.",
		ConstLabels: constantLabels,
	}, []string{"result"})

	reg := prometheus.NewRegistry()
	err = reg.Register(collector)
	if err != nil {
		return nil, fmt.Errorf("register collector for %q: %w", opts.Name, err)
	}
	reg.MustRegister(refreshes)

	return &Watcher{
		Name:       opts.Name,
		Path:       opts.Path,
		Format:     opts.Format,
		logger:     logger,
		interval:   opts.Interval,
		sampleType: opts.SampleType,
		buildOpts:  buildOpts,
		reg:        reg,
		collector:  collector,
		refreshes:  refreshes,
		graphs:     graphs,
	}, nil
}

func (w *Watcher) Describe(descs chan<- *prometheus.Desc) {
	w.reg.Describe(descs)
}

func (w *Watcher) Collect(metrics chan<- prometheus.Metric) {
	w.reg.Collect(metrics)
}

// Graph returns the most recently built graph, or nil before the first
// successful refresh.
func (w *Watcher) Graph() *callgraph.CallGraph {
	return w.collector.Graph()
}

func (w *Watcher) Watch(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		count, cached, err := w.Refresh(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("failed to refresh call graph")
		} else {
			w.logger.Info().
				Int("metric_count", count).
				Bool("cached", cached).
				Msg("refresh complete")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// Refresh reads the source file and exports its call graph. Unchanged
// contents reuse a previously built graph.
func (w *Watcher) Refresh(ctx context.Context) (count int, cached bool, err error) {
	defer func() {
		result := "built"
		switch {
		case err != nil:
			result = "error"
		case cached:
			result = "cached"
		}
		w.refreshes.WithLabelValues(result).Inc()
	}()

	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	data, err := os.ReadFile(w.Path)
	if err != nil {
		return 0, false, fmt.Errorf("read profile: %w", err)
	}

	key := xxh3.Hash(data)
	g, cached := w.graphs.Get(key)
	if !cached {
		g, err = w.build(data)
		if err != nil {
			return 0, false, err
		}
		w.graphs.Add(key, g)
	}

	count, err = w.collector.SetGraph(g)
	if err != nil {
		return 0, cached, fmt.Errorf("set graph: %w", err)
	}
	return count, cached, nil
}

func (w *Watcher) build(data []byte) (*callgraph.CallGraph, error) {
	p, err := profiling.Decode(bytes.NewReader(data), w.Format)
	if err != nil {
		return nil, fmt.Errorf("decode %s profile: %w", w.Format, err)
	}

	idx, err := callgraph.SampleIndexByName(p, w.sampleType)
	if err != nil {
		return nil, err
	}

	g, err := callgraph.BuildFromProfile(p, idx, w.buildOpts...)
	if err != nil {
		return nil, fmt.Errorf("build call graph: %w", err)
	}
	return g, nil
}
