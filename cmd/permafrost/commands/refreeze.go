package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/permafrost-sh/permafrost/internal/cli/output"
	"github.com/permafrost-sh/permafrost/pkg/refreeze"
)

var (
	refreezeAll    bool
	refreezeDryRun bool
)

var refreezeCmd = &cobra.Command{
	Use:   "refreeze [request-id]",
	Short: "Return thawed repositories to cold storage",
	Long: `Refreeze the repositories of a completed thaw request.

Refreeze unmounts the searchable snapshot indices mounted by the thaw,
deregisters the repositories from the cluster, and returns their catalog
state to frozen. A request that is already refrozen is a no-op, so a
partially failed refreeze can simply be re-run.

Examples:
  # Refreeze one request
  permafrost refreeze 4f7c2e0a-...

  # Refreeze every completed request
  permafrost refreeze --all

  # Preview without mutating anything
  permafrost refreeze 4f7c2e0a-... --dry-run`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRefreeze,
}

func init() {
	refreezeCmd.Flags().BoolVar(&refreezeAll, "all", false, "Refreeze every completed thaw request")
	refreezeCmd.Flags().BoolVar(&refreezeDryRun, "dry-run", false, "Report what would happen without mutating anything")
}

func runRefreeze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if refreezeAll == (len(args) == 1) {
		return fmt.Errorf("specify either a request id or --all")
	}

	env, err := newEnv(ctx)
	if err != nil {
		return err
	}
	printer, err := newPrinter()
	if err != nil {
		return err
	}
	engine := refreeze.New(env.store, env.cluster)

	var results []*refreeze.Result
	if refreezeAll {
		results, err = engine.RunAll(ctx, refreezeDryRun)
	} else {
		var result *refreeze.Result
		result, err = engine.Run(ctx, args[0], refreezeDryRun)
		if result != nil {
			results = append(results, result)
		}
	}
	if err != nil {
		return err
	}

	if printer.Format() != output.FormatTable {
		return printer.Print(results)
	}

	if len(results) == 0 {
		printer.Println("No completed thaw requests")
		return nil
	}
	for _, result := range results {
		printRefreezeResult(printer, result)
	}
	return nil
}

func printRefreezeResult(printer *output.Printer, result *refreeze.Result) {
	verb := "Refroze"
	if result.DryRun {
		verb = "Would refreeze"
	}
	printer.Printf("%s request %s (now %s)\n", verb, result.RequestID, result.Status)
	for _, repo := range result.Repositories {
		if repo.Error != "" {
			printer.Error(fmt.Sprintf("  %s: %s", repo.Repository, repo.Error))
			continue
		}
		if len(repo.Unmounted) > 0 {
			printer.Printf("  %s: unmounted %s\n", repo.Repository, strings.Join(repo.Unmounted, ", "))
		} else {
			printer.Printf("  %s: nothing mounted\n", repo.Repository)
		}
	}
}
