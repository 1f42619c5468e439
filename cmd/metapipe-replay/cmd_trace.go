package main

import (
	"context"
	"io"
	"os"

	"github.com/go-kit/log/level"
	replay "github.com/jsp-lqk/metapipe-replay"
	"github.com/jsp-lqk/metapipe-replay/internal/stats"
	"github.com/jsp-lqk/metapipe-replay/internal/workload"
	"github.com/spf13/cobra"
)

func newTraceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "trace <file>",
		Short: "Replay a trace file (\"-\" reads standard input)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return failed(err)
				}
				defer f.Close()
				r = f
			}
			src := workload.NewTraceSource(r, a.logger)

			return a.execute(cmd.Context(), func(ctx context.Context, conf replay.Config) (stats.Report, error) {
				report, err := replay.Run(ctx, conf, workload.Limit(src, a.v.GetInt64("ops")))
				if n := src.Skipped(); n > 0 {
					level.Warn(a.logger).Log("msg", "skipped trace lines", "count", n)
				}
				return report, err
			})
		},
	}
}
