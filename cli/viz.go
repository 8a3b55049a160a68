// ABOUTME: Visualization CLI commands
// ABOUTME: Pipeline summary dashboard and graphviz export
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/deangilmoreremix/update3.0-new-sub002/pipeline"
	"github.com/deangilmoreremix/update3.0-new-sub002/viz"
)

// VizCommand dispatches "viz [graph]".
func VizCommand(store *pipeline.Store, args []string) error {
	if len(args) > 0 && args[0] == "graph" {
		return VizGraphCommand(store, args[1:])
	}
	return VizDashboardCommand(store, args)
}

func VizDashboardCommand(store *pipeline.Store, args []string) error {
	fs := flag.NewFlagSet("viz", flag.ExitOnError)
	staleDays := fs.Int("stale-days", 14, "Flag deals stuck longer than this many days in one stage")
	_ = fs.Parse(args)

	fmt.Print(viz.RenderSummary(store.Snapshot(), store.StaleDeals(*staleDays)))
	return nil
}

// VizGraphCommand writes the pipeline graph as DOT.
func VizGraphCommand(store *pipeline.Store, args []string) error {
	fs := flag.NewFlagSet("viz graph", flag.ExitOnError)
	output := fs.String("output", "", "Output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dot, err := viz.GeneratePipelineGraph(context.Background(), store.Snapshot())
	if err != nil {
		return err
	}

	if *output != "" {
		return os.WriteFile(*output, []byte(dot), 0644)
	}

	fmt.Println(dot)
	return nil
}
