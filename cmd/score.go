package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"mycelica/wot/internal/wot"
)

var scoreSelection string

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Query scores computed from the trust graph",
}

var scoreGetCmd = &cobra.Command{
	Use:   "get <own-identity> <identity>",
	Short: "Show the score of an identity in an own identity's trust tree",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, store, err := OpenWoT()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		owner, err := resolveOwn(ctx, w, args[0])
		if err != nil {
			return err
		}
		target, err := ResolveIdentity(ctx, w, args[1])
		if err != nil {
			return err
		}
		score, err := w.GetScore(ctx, owner.ID, target.ID)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(score)
		}
		fmt.Printf("%s in tree of %s: value=%d rank=%d capacity=%d\n",
			target.DisplayName(), owner.DisplayName(), score.Value, score.Rank, score.Capacity)
		return nil
	},
}

var scoreBestCmd = &cobra.Command{
	Use:   "best <identity>",
	Short: "Show the highest score of an identity across all own trees",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, store, err := OpenWoT()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		target, err := ResolveIdentity(ctx, w, args[0])
		if err != nil {
			return err
		}
		best, err := w.GetBestScore(ctx, target.ID)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(map[string]any{"identity_id": target.ID, "best_score": best})
		}
		fmt.Printf("%s: best score %d\n", target.DisplayName(), best)
		return nil
	},
}

var scoreListCmd = &cobra.Command{
	Use:   "list [own-identity]",
	Short: "List identities by score sign (--select +, 0 or -)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sel, err := wot.ParseSelection(scoreSelection)
		if err != nil {
			return err
		}
		w, store, err := OpenWoT()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		ownerID := ""
		if len(args) == 1 {
			owner, err := resolveOwn(ctx, w, args[0])
			if err != nil {
				return err
			}
			ownerID = owner.ID
		}
		scored, err := w.GetIdentitiesByScore(ctx, ownerID, sel)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(scored)
		}
		for _, s := range scored {
			fmt.Printf("  %s  %-30s  value=%4d rank=%d  (tree %s)\n",
				truncID(s.Identity.ID), truncName(s.Identity.DisplayName(), 30),
				s.Score.Value, s.Score.Rank, truncID(s.Score.OwnerID))
		}
		fmt.Printf("\n%d scores\n", len(scored))
		return nil
	},
}

var scoreExplainCmd = &cobra.Command{
	Use:   "explain <own-identity> <identity>",
	Short: "Show the trust path that gives an identity its rank",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, store, err := OpenWoT()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		owner, err := resolveOwn(ctx, w, args[0])
		if err != nil {
			return err
		}
		target, err := ResolveIdentity(ctx, w, args[1])
		if err != nil {
			return err
		}
		path, err := w.ExplainScore(ctx, owner.ID, target.ID)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(path)
		}
		fmt.Printf("  %s (rank 0, capacity 100)\n", owner.DisplayName())
		for _, hop := range path {
			fmt.Printf("    --%d--> %s (rank %d, capacity %d)\n",
				hop.Value, truncName(hop.TrusteeName, 30), hop.Rank, hop.Capacity)
		}
		return nil
	},
}

func init() {
	scoreListCmd.Flags().StringVar(&scoreSelection, "select", "+", "Score sign: + (>= 0), 0 or -")

	scoreCmd.AddCommand(scoreGetCmd, scoreBestCmd, scoreListCmd, scoreExplainCmd)
	rootCmd.AddCommand(scoreCmd)
}
