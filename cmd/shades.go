package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var shadesJSON bool

var shadesCmd = &cobra.Command{
	Use:   "shades",
	Short: "List the reference shades in display order",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runShades()
	},
}

func init() {
	shadesCmd.Flags().BoolVar(&shadesJSON, "json", false, "Print the table as JSON")
	rootCmd.AddCommand(shadesCmd)
}

func runShades() error {
	table, err := loadTable()
	if err != nil {
		return fail("Failed to load shade table", err, nil)
	}

	if shadesJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(table.All())
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SHADE\tRGB\tHEX\tOPACITY\tPAINT\tGLOSS")
	fmt.Fprintln(w, "-----\t---\t---\t-------\t-----\t-----")

	for _, e := range table.All() {
		paint := "-"
		if e.Paint != nil {
			paint = e.Paint.Hex()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\t%.2f\n", e.Name, e.Color, e.Color.Hex(), e.Opacity, paint, e.Gloss)
	}
	return w.Flush()
}
