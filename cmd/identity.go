package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"mycelica/wot/internal/db"
)

var (
	identityPublish bool
	identityContext string
	identityOwnOnly bool
	identityRemote  bool
	similarTopN     int
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Create, list and remove identities",
}

var identityCreateCmd = &cobra.Command{
	Use:   "create <nickname>",
	Short: "Create an own identity with a fresh keypair",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, store, err := OpenWoT()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		if _, err := w.EnsureSeedIdentities(ctx); err != nil {
			return err
		}
		identity, err := w.GenerateOwnIdentity(ctx, args[0], identityPublish, identityContext)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(struct {
				*db.Identity
				InsertKey string `json:"insert_key"`
			}{identity, *identity.InsertKey})
		}
		fmt.Printf("Created %s (%s)\n", identity.DisplayName(), identity.ID)
		fmt.Printf("  request key: %s\n", identity.RequestKey)
		fmt.Printf("  insert key:  %s\n", *identity.InsertKey)
		fmt.Println("Keep the insert key secret; it is the only way to restore this identity.")
		return nil
	},
}

var identityAddCmd = &cobra.Command{
	Use:   "add <request-key>",
	Short: "Register a remote identity and queue its document for download",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, store, err := OpenWoT()
		if err != nil {
			return err
		}
		defer store.Close()

		identity, err := w.AddIdentity(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(identity)
		}
		fmt.Printf("Added %s\n", identity.ID)
		return nil
	},
}

var identityRestoreCmd = &cobra.Command{
	Use:   "restore <insert-key>",
	Short: "Take control of an identity from its insert key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, store, err := OpenWoT()
		if err != nil {
			return err
		}
		defer store.Close()

		identity, err := w.RestoreOwnIdentity(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(identity)
		}
		fmt.Printf("Restored %s (%s) at edition %d\n", identity.DisplayName(), identity.ID, identity.Edition)
		return nil
	},
}

var identityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known identities (* marks own identities)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, store, err := OpenWoT()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		var identities []db.Identity
		switch {
		case identityOwnOnly:
			identities, err = w.OwnIdentities(ctx)
		case identityRemote:
			identities, err = w.NonOwnIdentities(ctx, true)
		default:
			identities, err = w.AllIdentities(ctx)
		}
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(identities)
		}
		for i := range identities {
			printIdentityLine(&identities[i])
		}
		fmt.Printf("\n%d identities\n", len(identities))
		return nil
	},
}

var identityShowCmd = &cobra.Command{
	Use:   "show <identity>",
	Short: "Show an identity with its trust and scores",
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
		given, err := w.GivenTrusts(ctx, identity.ID)
		if err != nil {
			return err
		}
		received, err := w.ReceivedTrusts(ctx, identity.ID)
		if err != nil {
			return err
		}
		scores, err := w.ScoresOf(ctx, identity.ID)
		if err != nil {
			return err
		}

		if jsonOut {
			return printJSON(struct {
				Identity *db.Identity `json:"identity"`
				Given    []db.Trust   `json:"given"`
				Received []db.Trust   `json:"received"`
				Scores   []db.Score   `json:"scores"`
			}{identity, given, received, scores})
		}

		fmt.Printf("\n  %s  %s\n", identity.DisplayName(), identity.ID)
		fmt.Println("  ────────────────────────────────────────")
		fmt.Printf("  request key:   %s\n", identity.RequestKey)
		fmt.Printf("  own:           %v\n", identity.IsOwn())
		fmt.Printf("  edition:       %d\n", identity.Edition)
		fmt.Printf("  publishes:     %v\n", identity.PublishesTrustList)
		fmt.Printf("  first seen:    %s\n", formatMillis(identity.FirstSeen))
		fmt.Printf("  last fetched:  %s\n", formatMillis(identity.LastFetched))
		if identity.LastInserted != nil {
			fmt.Printf("  last inserted: %s\n", formatMillis(*identity.LastInserted))
		}
		if len(identity.Contexts) > 0 {
			fmt.Printf("  contexts:      %v\n", identity.Contexts)
		}
		if len(identity.Properties) > 0 {
			names := make([]string, 0, len(identity.Properties))
			for name := range identity.Properties {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Println("  properties:")
			for _, name := range names {
				fmt.Printf("    %s = %s\n", name, truncName(identity.Properties[name], 60))
			}
		}

		fmt.Printf("\n  Gives %d trusts, receives %d\n", len(given), len(received))
		if len(scores) > 0 {
			fmt.Println("\n  Scores:")
			for _, sc := range scores {
				fmt.Printf("    in tree of %s: value=%d rank=%d capacity=%d\n",
					truncID(sc.OwnerID), sc.Value, sc.Rank, sc.Capacity)
			}
		}
		fmt.Println()
		return nil
	},
}

var identityDeleteCmd = &cobra.Command{
	Use:   "delete <identity>",
	Short: "Delete an identity and everything it asserted or received",
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
		if err := w.DeleteIdentity(ctx, identity.ID); err != nil {
			return err
		}
		fmt.Printf("Deleted %s (%s)\n", identity.DisplayName(), identity.ID)
		return nil
	},
}

var identitySimilarCmd = &cobra.Command{
	Use:   "similar <identity>",
	Short: "List identities whose trust lists resemble this identity's",
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
		similar, err := w.SimilarIdentities(ctx, identity.ID, similarTopN)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(similar)
		}
		for _, s := range similar {
			fmt.Printf("  %s  %.2f  shared=%-3d %s\n", truncID(s.ID), s.Similarity, s.Shared, truncName(s.Nickname, 30))
		}
		fmt.Printf("\n%d similar identities\n", len(similar))
		return nil
	},
}

func init() {
	identityCreateCmd.Flags().BoolVar(&identityPublish, "publish-trust-list", true, "Publish the trust list of this identity")
	identityCreateCmd.Flags().StringVar(&identityContext, "context", "", "Initial context")
	identityListCmd.Flags().BoolVar(&identityOwnOnly, "own", false, "Only own identities")
	identityListCmd.Flags().BoolVar(&identityRemote, "remote", false, "Only remote identities, most recently fetched first")
	identitySimilarCmd.Flags().IntVar(&similarTopN, "top-n", 10, "Number of identities to show")

	identityCmd.AddCommand(identityCreateCmd, identityAddCmd, identityRestoreCmd,
		identityListCmd, identityShowCmd, identityDeleteCmd, identitySimilarCmd)
	rootCmd.AddCommand(identityCmd)
}
