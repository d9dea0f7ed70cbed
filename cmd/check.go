package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkRebuild bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify stored scores against a full recomputation",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, store, err := OpenWoT()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		if checkRebuild {
			written, err := w.RebuildScores(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Rebuilt scores: %d rows changed\n", written)
		}

		report, err := w.CheckIntegrity(ctx)
		if err != nil {
			return err
		}
		if jsonOut {
			if err := printJSON(report); err != nil {
				return err
			}
		} else {
			printIntegrity(report.DuplicateIdentities, "duplicate identities")
			printCount(len(report.DuplicateTrusts), "duplicate trusts")
			printCount(len(report.DuplicateScores), "duplicate scores")
			printCount(len(report.OrphanTrusts), "orphan trusts")
			printCount(len(report.OrphanScores), "orphan scores")
			printIntegrity(report.OrphanDetails, "orphan detail rows")
			printIntegrity(report.MissingSelfScores, "own identities without a self score")
			for _, m := range report.ScoreMismatches {
				fmt.Printf("  score %s -> %s: stored %s, expected %s\n",
					truncID(m.OwnerID), truncID(m.TargetID), scoreString(m.Stored), scoreString(m.Expected))
			}
		}
		if !report.OK() {
			return fmt.Errorf("integrity check failed (run 'wot check --rebuild' to repair scores)")
		}
		if !jsonOut {
			fmt.Println("OK")
		}
		return nil
	},
}

func printIntegrity(ids []string, what string) {
	if len(ids) == 0 {
		return
	}
	fmt.Printf("  %d %s\n", len(ids), what)
	for _, id := range ids {
		fmt.Printf("    - %s\n", id)
	}
}

func printCount(n int, what string) {
	if n > 0 {
		fmt.Printf("  %d %s\n", n, what)
	}
}

func init() {
	checkCmd.Flags().BoolVar(&checkRebuild, "rebuild", false, "Recompute all scores before checking")
	rootCmd.AddCommand(checkCmd)
}
