package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/permafrost-sh/permafrost/internal/cli/output"
	"github.com/permafrost-sh/permafrost/pkg/repair"
)

var repairDryRun bool

var repairCmd = &cobra.Command{
	Use:   "repair-metadata",
	Short: "Reconcile catalog state with object storage",
	Long: `Detect and correct catalog drift.

Repair inspects every catalogued repository's objects in storage, derives
the state they imply (storage classes and restore markers), and compares
it with the recorded state. Drifted records are overwritten with the
derived state; a recorded mount flag that disagrees with the cluster's
repository registration is corrected too. Active repositories and
expired-versus-thawed disagreements are left alone.

Examples:
  # Inspect and correct
  permafrost repair-metadata

  # Inspect only
  permafrost repair-metadata --dry-run`,
	RunE: runRepair,
}

func init() {
	repairCmd.Flags().BoolVar(&repairDryRun, "dry-run", false, "Report drift without correcting it")
}

func runRepair(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	env, err := newEnv(ctx)
	if err != nil {
		return err
	}
	printer, err := newPrinter()
	if err != nil {
		return err
	}

	engine := repair.New(env.store, env.cluster, env.objstore)
	rep, err := engine.Run(ctx, repairDryRun)
	if err != nil {
		return err
	}

	if printer.Format() != output.FormatTable {
		return printer.Print(rep)
	}

	for _, finding := range rep.Findings {
		switch {
		case finding.Error != "":
			printer.Error(fmt.Sprintf("%s: %s", finding.Repository, finding.Error))
		case finding.Drifted && finding.Corrected:
			printer.Printf("%s: corrected %s -> %s\n", finding.Repository, finding.Recorded, finding.Derived)
		case finding.Drifted:
			printer.Warning(fmt.Sprintf("%s: recorded %s, derived %s",
				finding.Repository, finding.Recorded, finding.Derived))
		case finding.MountDrifted && finding.Corrected:
			printer.Printf("%s: corrected mount flag\n", finding.Repository)
		case finding.MountDrifted:
			printer.Warning(fmt.Sprintf("%s: mount flag disagrees with cluster", finding.Repository))
		}
	}

	if rep.Drifted() == 0 {
		printer.Success("No drift detected")
	} else if rep.DryRun {
		printer.Printf("%d repositories drifted (dry run, nothing corrected)\n", rep.Drifted())
	} else {
		printer.Printf("%d repositories drifted\n", rep.Drifted())
	}
	return nil
}
