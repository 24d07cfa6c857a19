package cmd

import (
	"bytes"
	"fmt"
	"runtime/pprof"

	"github.com/Emyrk/callgraph/callgraph"
	"github.com/Emyrk/callgraph/cmd/workdemo"

	"github.com/coder/serpent"
)

func (r *Root) demoCmd() *serpent.Command {
	var opts graphOptions
	cmd := &serpent.Command{
		Use:   "demo",
		Short: "CPU profile a synthetic workload and print its call graph.",
		Handler: func(i *serpent.Invocation) error {
			logger := r.Logger(i)

			var buf bytes.Buffer
			err := pprof.StartCPUProfile(&buf)
			if err != nil {
				return fmt.Errorf("start cpu profile: %w", err)
			}

			// Do some work
			result := workdemo.Root()

			// Stop profile
			pprof.StopCPUProfile()
			logger.Debug().Int("result", result).Int("profile_bytes", buf.Len()).Msg("workload complete")

			p, err := callgraph.ParseProfile(&buf)
			if err != nil {
				return err
			}

			g, err := opts.build(p)
			if err != nil {
				return err
			}
			return opts.write(i.Stdout, g)
		},
	}

	opts.attach(&cmd.Options)
	return cmd
}
