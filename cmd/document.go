package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"mycelica/wot/internal/document"
)

var (
	importRequestKey string
	importEdition    int64
	exportOutput     string
)

var importCmd = &cobra.Command{
	Use:   "import <file|->",
	Short: "Merge a trust-list document received out of band",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		doc, err := document.Decode(in, importRequestKey, importEdition)
		if err != nil {
			return err
		}

		w, store, err := OpenWoT()
		if err != nil {
			return err
		}
		defer store.Close()

		report, err := w.ImportTrustList(cmd.Context(), doc)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(report)
		}

		fmt.Printf("Imported edition %d of %s", report.Edition, truncID(report.IdentityID))
		if report.NewIdentity {
			fmt.Print(" (new identity)")
		}
		fmt.Println()
		if report.TrustListImported {
			fmt.Printf("  trusts set=%d removed=%d  trustees created=%d skipped=%d\n",
				report.TrustsSet, report.TrustsRemoved, report.TrusteesCreated, report.TrusteesSkipped)
		} else if report.TrustListError != nil {
			fmt.Printf("  trust list rejected: %v\n", report.TrustListError)
		}
		for _, fe := range report.FieldErrors {
			fmt.Printf("  ignored %s\n", fe.Error())
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <own-identity>",
	Short: "Write the trust-list document of an own identity",
	Args:  cobra.ExactArgs(1),
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
		doc, err := w.ExportTrustList(ctx, own.ID)
		if err != nil {
			return err
		}

		var out io.Writer = os.Stdout
		if exportOutput != "" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		return document.Encode(out, doc)
	},
}

func init() {
	importCmd.Flags().StringVar(&importRequestKey, "request-key", "", "Request key (npub) of the document's author")
	importCmd.Flags().Int64Var(&importEdition, "edition", 0, "Edition the document was published under")
	_ = importCmd.MarkFlagRequired("request-key")
	_ = importCmd.MarkFlagRequired("edition")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to file instead of stdout")
	rootCmd.AddCommand(importCmd, exportCmd)
}
