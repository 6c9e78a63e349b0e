package cli

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"cbs-motion-planner/internal/planner"
)

type agentsFile struct {
	Agents []planner.AgentRequest `yaml:"agents"`
}

func newCBSCmd(flags *globalFlags) *cobra.Command {
	var agentsPath string

	cmd := &cobra.Command{
		Use:   "cbs",
		Short: "Plan conflict-free flights for several drones",
		Long: `Plan conflict-free flights for the drones listed in a YAML file:

  agents:
    - id: d1
      origin_id: n1
      destination_id: e3
    - id: d2
      start: {lat: 36.3731, lon: 127.3606, alt: 40}
      end:   {lat: 36.3745, lon: 127.3655, alt: 40}
      max_altitude: 120`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			agents, err := loadAgents(agentsPath)
			if err != nil {
				return err
			}
			a, err := newApp(flags, cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}

			paths, err := a.planner.PlanMultiAgentPaths(cmd.Context(), agents)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if flags.jsonOutput {
				return outputJSON(out, paths)
			}
			printSuccess(out, "%d conflict-free paths", len(paths))
			printPaths(out, paths)
			return nil
		},
	}

	cmd.Flags().StringVar(&agentsPath, "agents", "", "YAML file listing the agents")
	_ = cmd.MarkFlagRequired("agents")
	return cmd
}

func loadAgents(path string) ([]planner.AgentRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}
	var file agentsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse agents file: %w", err)
	}
	if len(file.Agents) == 0 {
		return nil, fmt.Errorf("%w: agents file %s lists no agents", planner.ErrInvalidRequest, path)
	}
	return file.Agents, nil
}
