package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/permafrost-sh/permafrost/internal/cli/output"
	"github.com/permafrost-sh/permafrost/pkg/rotate"
)

var (
	rotateKeep   int
	rotateYear   int
	rotateMonth  int
	rotateDryRun bool
)

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Rotate to a fresh repository and archive aged-out ones",
	Long: `Rotate the active snapshot repository.

Rotation provisions a fresh repository (new bucket or base path), bumps
the versioned archival policy to point at it, repoints templates bound to
the prior policy version, and archives mounted repositories beyond the
keep threshold: their objects are copied to the cold storage class, the
repository is unmounted from the cluster, and its catalog state becomes
frozen.

Examples:
  # Rotate, keeping the 6 newest repositories mounted
  permafrost rotate

  # Keep more repositories mounted
  permafrost rotate --keep 10

  # Date-style suffix for a specific month
  permafrost rotate --year 2024 --month 3

  # Preview without mutating anything
  permafrost rotate --dry-run`,
	RunE: runRotate,
}

func init() {
	rotateCmd.Flags().IntVar(&rotateKeep, "keep", 0, "How many of the newest repositories stay mounted (default from config)")
	rotateCmd.Flags().IntVar(&rotateYear, "year", 0, "Year for date-style suffixes (default: current UTC year)")
	rotateCmd.Flags().IntVar(&rotateMonth, "month", 0, "Month for date-style suffixes (default: current UTC month)")
	rotateCmd.Flags().BoolVar(&rotateDryRun, "dry-run", false, "Report what would happen without mutating anything")
}

func runRotate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	env, err := newEnv(ctx)
	if err != nil {
		return err
	}
	printer, err := newPrinter()
	if err != nil {
		return err
	}

	keep := rotateKeep
	if keep == 0 {
		keep = env.cfg.Rotation.Keep
	}

	engine := rotate.New(env.store, env.cluster, env.objstore)
	result, err := engine.Run(ctx, rotate.Config{
		Keep:   keep,
		Year:   rotateYear,
		Month:  rotateMonth,
		DryRun: rotateDryRun,
	})
	if err != nil {
		return err
	}

	if printer.Format() != output.FormatTable {
		return printer.Print(result)
	}

	verb := "Rotated to"
	if result.DryRun {
		verb = "Would rotate to"
	}
	printer.Printf("%s repository %s (bucket %s", verb, result.Repository, result.Bucket)
	if result.BasePath != "" {
		printer.Printf(", base path %s", result.BasePath)
	}
	printer.Printf(")\n")
	printer.Printf("Policy: %s\n", result.Policy)
	for _, tmpl := range result.RepointedTemplates {
		printer.Printf("Repointed template: %s\n", tmpl)
	}

	for _, archived := range result.Archived {
		switch {
		case archived.Error != "":
			printer.Error(fmt.Sprintf("Archive %s failed: %s", archived.Repository, archived.Error))
		case archived.Failed > 0:
			printer.Warning(fmt.Sprintf("Archived %s: %d objects copied, %d failed",
				archived.Repository, archived.Copied, archived.Failed))
		default:
			printer.Printf("Archived %s: %d objects copied\n", archived.Repository, archived.Copied)
		}
	}
	if len(result.Archived) == 0 {
		printer.Println("No repositories aged out")
	}
	return nil
}
