package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/permafrost-sh/permafrost/internal/cli/output"
	"github.com/permafrost-sh/permafrost/pkg/sweep"
)

var cleanupDryRun bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Sweep expired thaws, stale requests, and orphaned policies",
	Long: `Sweep lifecycle debris back into a clean state.

Cleanup runs three independent sweeps: repositories whose thaw window has
lapsed are unmounted and returned to frozen; terminal thaw requests older
than their retention window are pruned; policy versions no longer bound
to a registered repository or any template are deleted. Per-item failures
are reported without aborting the run.

Examples:
  # Clean everything that is due
  permafrost cleanup

  # Preview without mutating anything
  permafrost cleanup --dry-run`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Report what would happen without mutating anything")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	env, err := newEnv(ctx)
	if err != nil {
		return err
	}
	printer, err := newPrinter()
	if err != nil {
		return err
	}

	engine := sweep.New(env.store, env.cluster)
	rep, err := engine.Run(ctx, cleanupDryRun)
	if err != nil {
		return err
	}

	if printer.Format() != output.FormatTable {
		return printer.Print(rep)
	}

	if rep.Empty() {
		printer.Println("Nothing to clean up")
		return nil
	}

	verb := "Returned"
	if rep.DryRun {
		verb = "Would return"
	}
	for _, action := range rep.Repositories {
		if action.Error != "" {
			printer.Error(fmt.Sprintf("%s (%s): %s", action.Repository, action.From, action.Error))
			continue
		}
		printer.Printf("%s %s to frozen (was %s)\n", verb, action.Repository, action.From)
	}

	verb = "Pruned"
	if rep.DryRun {
		verb = "Would prune"
	}
	for _, action := range rep.Requests {
		if action.Error != "" {
			printer.Error(fmt.Sprintf("request %s (%s): %s", action.RequestID, action.Status, action.Error))
			continue
		}
		printer.Printf("%s request %s (%s, age %s)\n", verb, action.RequestID, action.Status, action.Age)
	}

	verb = "Deleted"
	if rep.DryRun {
		verb = "Would delete"
	}
	for _, action := range rep.Policies {
		if action.Error != "" {
			printer.Error(fmt.Sprintf("policy %s: %s", action.Policy, action.Error))
			continue
		}
		printer.Printf("%s orphaned policy %s\n", verb, action.Policy)
	}
	return nil
}
