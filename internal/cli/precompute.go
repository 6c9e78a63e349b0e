package cli

import (
	"runtime"

	"github.com/spf13/cobra"

	"cbs-motion-planner/internal/precompute"
)

func newPrecomputeCmd(flags *globalFlags) *cobra.Command {
	var (
		out     string
		workers int
	)

	cmd := &cobra.Command{
		Use:   "precompute",
		Short: "Plan every building pair into a path cache",
		Long: `Plan a path for every pair of registered buildings and write the
results to a JSON cache the server answers /route from. Pairs without a
route are stored as no_path.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}
			registry, err := a.requireRegistry()
			if err != nil {
				return err
			}
			if out == "" {
				out = a.cfg.Data.CacheFile
			}

			ctx := cmd.Context()
			obstacles, err := a.planner.LoadObstacles(ctx)
			if err != nil {
				return err
			}
			cache, err := precompute.Build(ctx, a.planner, registry.Buildings(), obstacles, precompute.Options{
				Workers: workers,
				Logger:  a.logger,
			})
			if err != nil {
				return err
			}
			if err := cache.Save(out); err != nil {
				return err
			}

			noPath := 0
			for _, e := range cache.Entries {
				if e.Status == precompute.StatusNoPath {
					noPath++
				}
			}

			w := cmd.OutOrStdout()
			if flags.jsonOutput {
				return outputJSON(w, map[string]any{
					"file":      out,
					"buildings": registry.Len(),
					"entries":   cache.Len(),
					"noPath":    noPath,
				})
			}
			printSuccess(w, "path cache written to %s", out)
			printField(w, "buildings", registry.Len())
			printField(w, "entries", cache.Len())
			if noPath > 0 {
				printWarning(w, "%d directed pairs have no route", noPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Cache file (default from config)")
	cmd.Flags().IntVar(&workers, "workers", runtime.NumCPU(), "Concurrent pair searches")
	return cmd
}
