package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"

	"cbs-motion-planner/internal/planner"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	headerColor  = color.New(color.FgBlue, color.Bold)
	labelColor   = color.New(color.FgWhite, color.Bold)
	dimColor     = color.New(color.FgHiBlack)
)

func printSuccess(w io.Writer, format string, args ...any) {
	_, _ = successColor.Fprintf(w, "✓ "+format+"\n", args...)
}

func printWarning(w io.Writer, format string, args ...any) {
	_, _ = warningColor.Fprintf(w, "⚠ "+format+"\n", args...)
}

func printSection(w io.Writer, title string) {
	_, _ = headerColor.Fprintf(w, "▸ %s\n", title)
}

func printField(w io.Writer, label string, value any) {
	_, _ = labelColor.Fprintf(w, "  %-12s", label+":")
	fmt.Fprintf(w, " %v\n", value)
}

// printPath shows a summary line plus the first and last waypoints.
func printPath(w io.Writer, p planner.Path) {
	printSection(w, p.AgentID)
	printField(w, "waypoints", len(p.Waypoints))
	printField(w, "cost", fmt.Sprintf("%.1f m", p.Cost))
	if len(p.Waypoints) == 0 {
		return
	}
	first, last := p.Waypoints[0], p.Waypoints[len(p.Waypoints)-1]
	printField(w, "from", fmt.Sprintf("(%.6f, %.6f) @ %.1f m", first.Lat, first.Lon, first.Alt))
	printField(w, "to", fmt.Sprintf("(%.6f, %.6f) @ %.1f m", last.Lat, last.Lon, last.Alt))
	printField(w, "arrival", fmt.Sprintf("t=%d", last.T))
	if len(p.Waypoints) > 2 {
		_, _ = dimColor.Fprintf(w, "  ... %d intermediate waypoints\n", len(p.Waypoints)-2)
	}
}

func printPaths(w io.Writer, paths map[string]planner.Path) {
	ids := make([]string, 0, len(paths))
	for id := range paths {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		printPath(w, paths[id])
	}
}
