package main

import (
	"context"
	"errors"

	replay "github.com/jsp-lqk/metapipe-replay"
	"github.com/jsp-lqk/metapipe-replay/internal/stats"
	"github.com/spf13/cobra"
)

func newPairedCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paired",
		Short: "Run a reader and a writer concurrently against one key",
		Long: "Seeds one key, then runs a get-only reader and a replace-only writer on separate event loops. " +
			"The first role to reach its target stops the other. The key is deleted afterwards unless --keep is set.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := a.v
			p := replay.Paired{
				Key:       v.GetString("key"),
				ValueSize: v.GetInt("value-size"),
				Reads:     v.GetInt64("reads"),
				Writes:    v.GetInt64("writes"),
				Keep:      v.GetBool("keep"),
			}
			if p.Reads <= 0 && p.Writes <= 0 {
				p.Reads = v.GetInt64("ops")
			}
			if p.Reads <= 0 && p.Writes <= 0 {
				return errors.New("paired needs --reads, --writes or --ops")
			}
			return a.execute(cmd.Context(), func(ctx context.Context, conf replay.Config) (stats.Report, error) {
				return replay.RunPaired(ctx, conf, p)
			})
		},
	}

	flags := cmd.Flags()
	flags.String("key", replay.DefaultPairedKey, "Key shared by both roles")
	flags.Int64("reads", 0, "Gets issued by the reader (0 = until the writer finishes)")
	flags.Int64("writes", 0, "Replaces issued by the writer (0 = until the reader finishes)")
	flags.Bool("keep", false, "Leave the key in place after the run")
	return cmd
}
