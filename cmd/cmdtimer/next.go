package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"cmdtimer/internal/config"
	"cmdtimer/internal/engine"
)

func nextCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Preview the next firing of every entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigManager(cfgPath).Parse()
			if err != nil {
				return err
			}
			loc, _ := cfg.Location()
			entries, _ := cfg.BuildEntries()
			infos := engine.Preview(entries, loc, time.Now())

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ENTRY\tNEXT\tRULES")
			for _, in := range infos {
				next := "-"
				if !in.Next.IsZero() {
					next = in.Next.In(loc).Format("Mon 2006-01-02 15:04:05 MST")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", in.ID, next, strings.Join(in.Rules, ", "))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
