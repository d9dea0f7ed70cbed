package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Manage the contexts of an own identity",
}

var contextAddCmd = &cobra.Command{
	Use:   "add <own-identity> <context>",
	Short: "Add a context",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, store, err := OpenWoT()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		own, err := resolveOwn(ctx, w, args[0])
		if err != nil {
			return err
		}
		if err := w.AddContext(ctx, own.ID, args[1]); err != nil {
			return err
		}
		fmt.Printf("Added context %q to %s\n", args[1], own.DisplayName())
		return nil
	},
}

var contextRemoveCmd = &cobra.Command{
	Use:   "remove <own-identity> <context>",
	Short: "Remove a context",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, store, err := OpenWoT()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		own, err := resolveOwn(ctx, w, args[0])
		if err != nil {
			return err
		}
		if err := w.RemoveContext(ctx, own.ID, args[1]); err != nil {
			return err
		}
		fmt.Printf("Removed context %q from %s\n", args[1], own.DisplayName())
		return nil
	},
}

var propertyCmd = &cobra.Command{
	Use:   "property",
	Short: "Manage the properties of an own identity",
}

var propertySetCmd = &cobra.Command{
	Use:   "set <own-identity> <name> <value>",
	Short: "Set a property",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, store, err := OpenWoT()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		own, err := resolveOwn(ctx, w, args[0])
		if err != nil {
			return err
		}
		if err := w.SetProperty(ctx, own.ID, args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("%s: %s = %s\n", own.DisplayName(), args[1], args[2])
		return nil
	},
}

var propertyRemoveCmd = &cobra.Command{
	Use:   "remove <own-identity> <name>",
	Short: "Remove a property",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, store, err := OpenWoT()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		own, err := resolveOwn(ctx, w, args[0])
		if err != nil {
			return err
		}
		if err := w.RemoveProperty(ctx, own.ID, args[1]); err != nil {
			return err
		}
		fmt.Printf("Removed property %q from %s\n", args[1], own.DisplayName())
		return nil
	},
}

func init() {
	contextCmd.AddCommand(contextAddCmd, contextRemoveCmd)
	propertyCmd.AddCommand(propertySetCmd, propertyRemoveCmd)
	rootCmd.AddCommand(contextCmd, propertyCmd)
}
