package commands

import (
	"github.com/spf13/cobra"

	"github.com/permafrost-sh/permafrost/internal/cli/output"
	"github.com/permafrost-sh/permafrost/pkg/report"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show repositories, thaw requests, and policies",
	Long: `Display the current lifecycle picture.

The report enumerates every catalogued repository with its state and
backing bucket, every thaw request, and every version of the archival
policy, cross-checked against the cluster and object storage.

Examples:
  # Human-readable tables
  permafrost status

  # Machine-readable forms
  permafrost status --output json
  permafrost status --output tsv`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	env, err := newEnv(ctx)
	if err != nil {
		return err
	}
	printer, err := newPrinter()
	if err != nil {
		return err
	}

	status, err := report.Collect(ctx, env.store, env.cluster, env.objstore)
	if err != nil {
		return err
	}

	if printer.Format() == output.FormatJSON {
		return printer.Print(status)
	}

	if printer.Format() == output.FormatTable {
		printer.Printf("Catalog: %s\n\n", status.CatalogIndex)
	}
	if err := printer.Print(report.RepositoryTable(status.Repositories)); err != nil {
		return err
	}
	if len(status.Requests) > 0 {
		printer.Println()
		if err := printer.Print(report.RequestTable(status.Requests)); err != nil {
			return err
		}
	}
	if len(status.Policies) > 0 {
		printer.Println()
		if err := printer.Print(report.PolicyTable(status.Policies)); err != nil {
			return err
		}
	}
	return nil
}
