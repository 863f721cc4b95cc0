package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nixstore/nixstore/gc"
)

var gcDryRun bool

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "run mark-and-sweep garbage collection over the store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, e, err := rootContext(cmd)
		if err != nil {
			return err
		}

		stats, err := e.gcol.Run(ctx, gc.Options{DryRun: gcDryRun})
		if err != nil {
			return fmt.Errorf("garbage collection failed: %w", err)
		}

		if gcDryRun {
			cmd.Printf("dry run: %d objects marked live, %d candidates for removal\n", stats.ObjectsMarked, len(stats.DeletionCandidates))
		} else {
			cmd.Printf("removed %d objects, reclaimed %s\n", stats.ObjectsRemoved, humanizeBytes(stats.BytesReclaimed))
		}
		for _, gcErr := range stats.Errors {
			cmd.PrintErrln("warning:", gcErr)
		}
		return nil
	},
}

func init() {
	gcCmd.Flags().BoolVarP(&gcDryRun, "dry-run", "d", false, "report what would be removed without removing anything")
}

// humanizeBytes renders n bytes in the largest whole unit that keeps the
// number under 1024, grounded on the teacher's own humanizeBytes helper.
func humanizeBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for next := n / unit; next >= unit; next /= unit {
		div *= unit
		exp++
	}
	units := "KMGTPE"
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), units[exp])
}
