package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	groupTitleColor   = color.New(color.FgCyan, color.Bold)
	sectionTitleColor = color.New(color.FgBlue, color.Bold)
)

var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	jsonOutput bool
}

// SetVersion overrides the version reported by --version.
func SetVersion(v string) {
	if v == "" {
		return
	}
	version = v
}

// NewRootCmd builds the dronepath command tree.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:     "dronepath",
		Version: version,
		Short:   "Multi-agent drone path planner",
		Long: `dronepath plans collision-free drone flights between buildings.

It searches a space-time grid around cylindrical no-fly zones and resolves
conflicts between several drones with conflict-based search.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")
	root.SetHelpFunc(customHelpFunc)
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to a YAML config file")
	root.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "Output in JSON format")

	root.AddGroup(&cobra.Group{ID: "planning", Title: "Planning:"})
	root.AddGroup(&cobra.Group{ID: "service", Title: "Service:"})

	for _, c := range []*cobra.Command{newPlanCmd(flags), newCBSCmd(flags), newPrecomputeCmd(flags)} {
		c.GroupID = "planning"
		root.AddCommand(c)
	}
	serve := newServeCmd(flags)
	serve.GroupID = "service"
	root.AddCommand(serve)

	return root
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}

func customHelpFunc(cmd *cobra.Command, args []string) {
	var help strings.Builder

	if cmd.Long != "" {
		help.WriteString(cmd.Long)
		help.WriteString("\n\n")
	}

	help.WriteString(sectionTitleColor.Sprint("Usage:"))
	help.WriteString("\n")
	fmt.Fprintf(&help, "  %s\n\n", cmd.UseLine())

	for _, group := range cmd.Groups() {
		help.WriteString(groupTitleColor.Sprint(group.Title))
		help.WriteString("\n")
		for _, c := range cmd.Commands() {
			if c.GroupID == group.ID && !c.Hidden {
				fmt.Fprintf(&help, "  %-11s %s\n", c.Name(), c.Short)
			}
		}
		help.WriteString("\n")
	}

	if cmd.HasAvailableLocalFlags() || cmd.HasAvailablePersistentFlags() {
		help.WriteString(sectionTitleColor.Sprint("Flags:"))
		help.WriteString("\n")
		help.WriteString(cmd.LocalFlags().FlagUsages())
		help.WriteString(cmd.InheritedFlags().FlagUsages())
		help.WriteString("\n")
	}

	if cmd.HasAvailableSubCommands() {
		fmt.Fprintf(&help, "Use \"%s [command] --help\" for more information about a command.\n", cmd.CommandPath())
	}
	fmt.Fprint(cmd.OutOrStdout(), help.String())
}
