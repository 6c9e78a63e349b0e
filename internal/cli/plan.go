package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"cbs-motion-planner/internal/geo"
	"cbs-motion-planner/internal/planner"
)

func newPlanCmd(flags *globalFlags) *cobra.Command {
	var (
		from, to   string
		start, end string
		maxAlt     float64
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Plan a single flight",
		Long: `Plan one flight, ignoring other drones.

Give two building IDs with --from/--to, or two coordinates as "lat,lon,alt"
with --start/--end.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var path planner.Path
			switch {
			case from != "" && to != "":
				if _, err := a.requireRegistry(); err != nil {
					return err
				}
				path, err = a.planner.PlanBetween(ctx, from, to)
			case start != "" && end != "":
				s, perr := parsePoint(start)
				if perr != nil {
					return fmt.Errorf("--start: %w", perr)
				}
				e, perr := parsePoint(end)
				if perr != nil {
					return fmt.Errorf("--end: %w", perr)
				}
				if maxAlt == 0 {
					maxAlt = a.cfg.Search.MaxAltitude
				}
				obstacles, lerr := a.planner.LoadObstacles(ctx)
				if lerr != nil {
					return lerr
				}
				path, err = a.planner.PlanSingleAgentPath(ctx, s, e, obstacles, maxAlt)
			default:
				return fmt.Errorf("%w: give --from and --to, or --start and --end", planner.ErrInvalidRequest)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if flags.jsonOutput {
				return outputJSON(out, path)
			}
			printSuccess(out, "path found")
			printPath(out, path)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Origin building ID")
	cmd.Flags().StringVar(&to, "to", "", "Destination building ID")
	cmd.Flags().StringVar(&start, "start", "", `Start as "lat,lon,alt"`)
	cmd.Flags().StringVar(&end, "end", "", `End as "lat,lon,alt"`)
	cmd.Flags().Float64Var(&maxAlt, "max-altitude", 0, "Altitude ceiling in metres (default from config)")
	cmd.MarkFlagsRequiredTogether("from", "to")
	cmd.MarkFlagsRequiredTogether("start", "end")
	cmd.MarkFlagsMutuallyExclusive("from", "start")
	return cmd
}

// parsePoint reads "lat,lon,alt".
func parsePoint(s string) (geo.Point3D, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return geo.Point3D{}, fmt.Errorf("%w: want lat,lon,alt, got %q", planner.ErrInvalidEndpoint, s)
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geo.Point3D{}, fmt.Errorf("%w: %q: %w", planner.ErrInvalidEndpoint, s, err)
		}
		v[i] = f
	}
	return geo.Point3D{Lat: v[0], Lon: v[1], Alt: v[2]}, nil
}
