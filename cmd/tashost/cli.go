package main

import (
	"fmt"
	"strconv"

	"github.com/framestep/tasbridge/internal/config"
	"github.com/framestep/tasbridge/internal/history"
)

// printRuns lists the most recent runs and their failures from the history
// database. An optional argument sets how many runs are shown.
func printRuns(args []string) error {
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid run count %q", args[0])
		}
		limit = n
	}

	hc := config.GetHistoryConfig()
	hist := history.NewManager(componentLogger("history"), history.Config{
		Driver: hc.Driver,
		DSN:    hc.DSN,
		Path:   hc.Path,
	})
	if err := hist.Connect(); err != nil {
		return err
	}
	defer hist.Close()
	if err := hist.Setup(); err != nil {
		return err
	}

	runs, err := hist.RecentRuns(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	for _, r := range runs {
		fmt.Printf("%s  %-9s  %6d/%-6d  %s  %s\n",
			r.StartedAt.Format("2006-01-02 15:04:05"), r.Outcome, r.Frames, r.TotalFrames, r.RunID, r.Script)

		failures, err := hist.FailuresOf(r.RunID)
		if err != nil {
			return err
		}
		for _, f := range failures {
			if f.Kind == history.FailureLoad {
				fmt.Printf("    load failed: %s\n", f.Message)
				continue
			}
			fmt.Printf("    %s at %s:%d (frame %d): %s\n", f.Command, f.File, f.Line, f.Frame, f.Message)
		}
	}
	return nil
}
