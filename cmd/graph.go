package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	gojson "github.com/goccy/go-json"
	"github.com/google/pprof/profile"

	"github.com/Emyrk/callgraph/callgraph"
	"github.com/Emyrk/callgraph/watch/profiling"

	"github.com/coder/serpent"
)

type graphOptions struct {
	sampleType    string
	output        string
	pretty        bool
	recursionOnce bool
	top           int64
}

func (o graphOptions) buildOptions() []callgraph.Option {
	var opts []callgraph.Option
	if o.recursionOnce {
		opts = append(opts, callgraph.WithRecursionCountedOnce())
	}
	return opts
}

func (o *graphOptions) attach(opts *serpent.OptionSet) {
	*opts = append(*opts,
		serpent.Option{
			Name:        "sample",
			Description: "Sample type used as the weight. Defaults to the profile's default sample type.",
			Flag:        "sample",
			Env:         "CALLGRAPH_SAMPLE",
			Value:       serpent.StringOf(&o.sampleType),
		},
		serpent.Option{
			Name:          "output",
			Description:   "Output format.",
			Flag:          "output",
			FlagShorthand: "o",
			Default:       "text",
			Value:         serpent.EnumOf(&o.output, "text", "json"),
		},
		serpent.Option{
			Name:        "pretty",
			Description: "Pretty print JSON.",
			Flag:        "pretty",
			Value:       serpent.BoolOf(&o.pretty),
		},
		serpent.Option{
			Name:        "recursion-once",
			Description: "Count a recursive function at most once per sample.",
			Flag:        "recursion-once",
			Env:         "CALLGRAPH_RECURSION_ONCE",
			Value:       serpent.BoolOf(&o.recursionOnce),
		},
		serpent.Option{
			Name:        "top",
			Description: "Only print the top N functions and edges in text output. 0 prints everything.",
			Flag:        "top",
			Default:     "0",
			Value:       serpent.Int64Of(&o.top),
		},
	)
}

func (o graphOptions) build(p *profile.Profile) (*callgraph.CallGraph, error) {
	idx, err := callgraph.SampleIndexByName(p, o.sampleType)
	if err != nil {
		return nil, err
	}
	g, err := callgraph.BuildFromProfile(p, idx, o.buildOptions()...)
	if err != nil {
		return nil, fmt.Errorf("build call graph: %w", err)
	}
	return g, nil
}

func (o graphOptions) write(w io.Writer, g *callgraph.CallGraph) error {
	switch o.output {
	case "json":
		var (
			data []byte
			err  error
		)
		if o.pretty {
			data, err = gojson.MarshalIndent(g, "", "\t")
		} else {
			data, err = gojson.Marshal(g)
		}
		if err != nil {
			return fmt.Errorf("marshal call graph: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	default:
		return writeText(w, g, int(o.top))
	}
}

func (r *Root) GraphCmd() *serpent.Command {
	var (
		input  string
		format string
		opts   graphOptions
	)
	cmd := &serpent.Command{
		Use:   "graph",
		Short: "Build the call graph of a profile and print it.",
		Options: serpent.OptionSet{
			{
				Name:          "input",
				Description:   "Profile to read, '-' reads stdin.",
				Flag:          "input",
				FlagShorthand: "i",
				Default:       "-",
				Value:         serpent.StringOf(&input),
			},
			{
				Name:        "format",
				Description: "Input format. auto guesses from the file extension.",
				Flag:        "format",
				Default:     "auto",
				Value:       serpent.EnumOf(&format, "auto", profiling.FormatPprof, profiling.FormatFolded),
			},
		},
		Handler: func(inv *serpent.Invocation) error {
			logger := r.Logger(inv)

			var in io.Reader = inv.Stdin
			if input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				in = f
			}

			if format == "auto" {
				format = profiling.FormatPprof
				if input != "-" {
					format = profiling.FormatFromPath(input)
				}
			}

			p, err := profiling.Decode(in, format)
			if err != nil {
				logger.Error().Err(err).Str("input", input).Msg("decode profile")
				return err
			}

			g, err := opts.build(p)
			if err != nil {
				logger.Error().Err(err).Str("input", input).Msg("build call graph")
				return err
			}

			logger.Debug().
				Int("nodes", len(g.Nodes)).
				Int("edges", len(g.Edges)).
				Int64("grand_total", g.GrandTotal).
				Msg("built call graph")

			return opts.write(inv.Stdout, g)
		},
	}

	opts.attach(&cmd.Options)
	return cmd
}

// writeText prints the nodes in index order followed by the edges, in the
// style of pprof -text.
func writeText(w io.Writer, g *callgraph.CallGraph, top int) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', tabwriter.AlignRight)
	_, _ = fmt.Fprintf(tw, "total\t%d\t\n", g.GrandTotal)
	_, _ = fmt.Fprintln(tw, "index\tself\tself%\ttotal\ttotal%\tfunction\t")

	nodes := g.Nodes
	if top > 0 && len(nodes) > top {
		nodes = nodes[:top]
	}
	for _, n := range nodes {
		_, _ = fmt.Fprintf(tw, "%d\t%d\t%.2f%%\t%d\t%.2f%%\t%s\t\n",
			n.Index,
			n.SelfTime, n.SelfTimePercentage*100,
			n.TotalTime, n.TotalTimePercentage*100,
			n.Function.ShortName())
	}

	err := tw.Flush()
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 8, 2, ' ', tabwriter.AlignRight)
	_, _ = fmt.Fprintln(tw, "caller\tcallee\ttime\ttime%\tedge\t")
	edges := g.SortedEdges()
	if top > 0 && len(edges) > top {
		edges = edges[:top]
	}
	for _, e := range edges {
		_, _ = fmt.Fprintf(tw, "%d\t%d\t%d\t%.2f%%\t%s -> %s\t\n",
			e.Caller.Index, e.Callee.Index,
			e.Time, e.TimePercentage*100,
			e.Caller.Function.ShortName(), e.Callee.Function.ShortName())
	}
	return tw.Flush()
}
