package main

import (
	"context"
	"time"

	replay "github.com/jsp-lqk/metapipe-replay"
	"github.com/jsp-lqk/metapipe-replay/internal/seed"
	"github.com/jsp-lqk/metapipe-replay/internal/stats"
	"github.com/jsp-lqk/metapipe-replay/internal/workload"
	"github.com/jsp-lqk/metapipe-replay/router"
	"github.com/spf13/cobra"
)

func newSyntheticCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "synthetic",
		Short: "Generate a seeded request mix over a fixed keyspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := a.v
			src, err := workload.NewSyntheticSource(workload.SyntheticConfig{
				KeySpace:     v.GetInt("keyspace"),
				KeyPrefix:    v.GetString("key-prefix"),
				ValueSize:    v.GetInt("value-size"),
				Seed:         v.GetUint64("seed"),
				GetRatio:     v.GetInt("get-ratio"),
				SetRatio:     v.GetInt("set-ratio"),
				AddRatio:     v.GetInt("add-ratio"),
				ReplaceRatio: v.GetInt("replace-ratio"),
				DeleteRatio:  v.GetInt("delete-ratio"),
				TTL:          v.GetInt64("ttl"),
				UseZipf:      v.GetBool("zipf"),
				ZipfS:        v.GetFloat64("zipf-s"),
				ZipfV:        v.GetFloat64("zipf-v"),
			})
			if err != nil {
				return err
			}

			return a.execute(cmd.Context(), func(ctx context.Context, conf replay.Config) (stats.Report, error) {
				if v.GetBool("warm") {
					s, err := seed.New(conf.Servers, router.New(len(conf.Servers)), time.Second, a.logger)
					if err != nil {
						return stats.Report{}, err
					}
					if err := s.Warm(ctx, src.Keys(), workload.GenerateValue(v.GetInt("value-size"))); err != nil {
						return stats.Report{}, err
					}
				}
				return replay.Run(ctx, conf, workload.Limit(src, v.GetInt64("ops")))
			})
		},
	}

	flags := cmd.Flags()
	flags.Int("keyspace", 1000, "Number of distinct keys")
	flags.String("key-prefix", "key:", "Prefix of generated keys")
	flags.Uint64("seed", 1, "Random seed; equal seeds give equal workloads")
	flags.Int("get-ratio", 90, "Relative weight of get")
	flags.Int("set-ratio", 10, "Relative weight of set")
	flags.Int("add-ratio", 0, "Relative weight of add")
	flags.Int("replace-ratio", 0, "Relative weight of replace")
	flags.Int("delete-ratio", 0, "Relative weight of delete")
	flags.Int64("ttl", 0, "Expiration time sent with storage requests")
	flags.Bool("zipf", false, "Pick keys from a Zipf distribution instead of uniformly")
	flags.Float64("zipf-s", 1.01, "Zipf s parameter (> 1)")
	flags.Float64("zipf-v", 1, "Zipf v parameter (>= 1)")
	flags.Bool("warm", false, "Set every key before the run starts")
	return cmd
}
