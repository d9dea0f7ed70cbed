package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mycelica/wot/internal/db"
)

var (
	trustComment  string
	trustReceived bool
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Assert, withdraw and list trust",
}

var trustSetCmd = &cobra.Command{
	Use:   "set <own-identity> <identity> <value>",
	Short: "Trust an identity with a value in [-100, 100]",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("trust value %q is not a number", args[2])
		}
		w, store, err := OpenWoT()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		truster, err := resolveOwn(ctx, w, args[0])
		if err != nil {
			return err
		}
		trustee, err := ResolveIdentity(ctx, w, args[1])
		if err != nil {
			return err
		}
		if err := w.SetTrust(ctx, truster.ID, trustee.ID, value, trustComment); err != nil {
			return err
		}
		fmt.Printf("%s trusts %s: %d\n", truster.DisplayName(), trustee.DisplayName(), value)
		return nil
	},
}

var trustRemoveCmd = &cobra.Command{
	Use:   "remove <own-identity> <identity>",
	Short: "Withdraw a trust assertion",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, store, err := OpenWoT()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		truster, err := resolveOwn(ctx, w, args[0])
		if err != nil {
			return err
		}
		trustee, err := ResolveIdentity(ctx, w, args[1])
		if err != nil {
			return err
		}
		if err := w.RemoveTrust(ctx, truster.ID, trustee.ID); err != nil {
			return err
		}
		fmt.Printf("%s no longer trusts %s\n", truster.DisplayName(), trustee.DisplayName())
		return nil
	},
}

var trustListCmd = &cobra.Command{
	Use:   "list <identity>",
	Short: "List the trust an identity gives (or receives with --received)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, store, err := OpenWoT()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		identity, err := ResolveIdentity(ctx, w, args[0])
		if err != nil {
			return err
		}
		var trusts []db.Trust
		if trustReceived {
			trusts, err = w.ReceivedTrusts(ctx, identity.ID)
		} else {
			trusts, err = w.GivenTrusts(ctx, identity.ID)
		}
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(trusts)
		}

		for _, t := range trusts {
			other := t.TrusteeID
			arrow := "->"
			if trustReceived {
				other = t.TrusterID
				arrow = "<-"
			}
			name := truncID(other)
			if peer, err := w.GetIdentity(ctx, other); err == nil {
				name = peer.DisplayName()
			}
			fmt.Printf("  %s %4d  %-30s  %s\n", arrow, t.Value, truncName(name, 30), truncName(t.Comment, 40))
		}
		fmt.Printf("\n%d trusts\n", len(trusts))
		return nil
	},
}

func init() {
	trustSetCmd.Flags().StringVar(&trustComment, "comment", "", "Comment stored with the trust value")
	trustListCmd.Flags().BoolVar(&trustReceived, "received", false, "List trust received instead of given")

	trustCmd.AddCommand(trustSetCmd, trustRemoveCmd, trustListCmd)
	rootCmd.AddCommand(trustCmd)
}
