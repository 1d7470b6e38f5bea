package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/permafrost-sh/permafrost/internal/cli/output"
	"github.com/permafrost-sh/permafrost/pkg/thaw"
)

var (
	thawStart        string
	thawEnd          string
	thawCheck        string
	thawWait         bool
	thawPollInterval time.Duration
	thawDryRun       bool
)

var thawCmd = &cobra.Command{
	Use:   "thaw",
	Short: "Restore archived repositories covering a date range",
	Long: `Thaw archived data covering a date range back to instant access.

Thaw selects the frozen repositories whose recorded range overlaps
[--start, --end], issues object-storage restore requests for their
archived objects, and records a thaw request to track progress. Restores
are asynchronous: re-check with --check (or poll with --wait) until every
object is readable, at which point the repositories are remounted and the
snapshot indices intersecting the window are mounted as searchable.

Examples:
  # Initiate a thaw and return immediately
  permafrost thaw --start 2024-01-01 --end 2024-03-31

  # Initiate and poll until the data is mounted
  permafrost thaw --start 2024-01-01 --end 2024-03-31 --wait

  # Re-check a pending request (mounts if complete)
  permafrost thaw --check 4f7c2e0a-...

  # Preview the selection without issuing restores
  permafrost thaw --start 2024-01-01 --end 2024-03-31 --dry-run`,
	RunE: runThaw,
}

func init() {
	thawCmd.Flags().StringVar(&thawStart, "start", "", "Start of the date range (YYYY-MM-DD)")
	thawCmd.Flags().StringVar(&thawEnd, "end", "", "End of the date range (YYYY-MM-DD)")
	thawCmd.Flags().StringVar(&thawCheck, "check", "", "Check the progress of an existing thaw request instead of starting one")
	thawCmd.Flags().BoolVar(&thawWait, "wait", false, "Poll until the thaw completes or fails")
	thawCmd.Flags().DurationVar(&thawPollInterval, "poll-interval", 0, "How often --wait re-checks progress (default from config)")
	thawCmd.Flags().BoolVar(&thawDryRun, "dry-run", false, "Report the selection without issuing restores")
}

func runThaw(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	env, err := newEnv(ctx)
	if err != nil {
		return err
	}
	printer, err := newPrinter()
	if err != nil {
		return err
	}
	engine := thaw.New(env.store, env.cluster, env.objstore)

	interval := thawPollInterval
	if interval == 0 {
		interval = env.cfg.Thaw.PollInterval
	}

	if thawCheck != "" {
		if thawWait {
			status, err := engine.Wait(ctx, thawCheck, interval)
			if err != nil {
				return err
			}
			return printThawStatus(printer, status)
		}
		status, err := engine.CheckStatus(ctx, thawCheck)
		if err != nil {
			return err
		}
		return printThawStatus(printer, status)
	}

	if thawStart == "" || thawEnd == "" {
		return fmt.Errorf("--start and --end are required (or use --check <request-id>)")
	}
	start, err := time.Parse("2006-01-02", thawStart)
	if err != nil {
		return fmt.Errorf("invalid --start %q: expected YYYY-MM-DD", thawStart)
	}
	end, err := time.Parse("2006-01-02", thawEnd)
	if err != nil {
		return fmt.Errorf("invalid --end %q: expected YYYY-MM-DD", thawEnd)
	}

	result, err := engine.Initiate(ctx, start.UTC(), end.UTC(), thawDryRun)
	if err != nil {
		return err
	}

	if printer.Format() != output.FormatTable {
		if !thawWait || result.DryRun {
			return printer.Print(result)
		}
	} else {
		verb := "Thawing"
		if result.DryRun {
			verb = "Would thaw"
		}
		printer.Printf("%s %d repositories for %s .. %s\n", verb, len(result.Repositories),
			result.Start.Format("2006-01-02"), result.End.Format("2006-01-02"))
		for _, repo := range result.Repositories {
			printer.Printf("  %s: %d restores requested, %d objects already available\n",
				repo.Repository, repo.Requested, repo.Available)
		}
		if result.DryRun {
			return nil
		}
		printer.Printf("Request %s, restores expire %s\n", result.RequestID,
			result.ExpiresAt.Format(time.RFC3339))
	}

	if !thawWait {
		return nil
	}
	status, err := engine.Wait(ctx, result.RequestID, interval)
	if err != nil {
		return err
	}
	return printThawStatus(printer, status)
}

func printThawStatus(printer *output.Printer, status *thaw.StatusResult) error {
	if printer.Format() != output.FormatTable {
		return printer.Print(status)
	}

	printer.Printf("Request %s: %s\n", status.RequestID, status.Status)
	for _, repo := range status.Repositories {
		printer.Printf("  %s: %d/%d restored (%d in progress, %d not started, %d errors)\n",
			repo.Repository, repo.Restored, repo.Total, repo.InProgress, repo.NotStarted, repo.Errors)
	}
	for repo, indices := range status.Mounted {
		printer.Printf("  %s mounted %d indices\n", repo, len(indices))
	}
	return nil
}
