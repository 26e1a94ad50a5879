package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cmdtimer/internal/config"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and report invalid rules, entries and timezone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigManager(cfgPath).Parse()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			problems := 0
			if err := config.Validate(cfg); err != nil {
				for _, e := range unjoin(err) {
					fmt.Fprintln(out, "error:", e)
					problems++
				}
			}
			if _, err := cfg.Location(); err != nil {
				fmt.Fprintln(out, "warning:", err, "(UTC will be used)")
				problems++
			}
			entries, errs := cfg.BuildEntries()
			for _, e := range errs {
				fmt.Fprintln(out, "warning:", e)
				problems++
			}
			fmt.Fprintf(out, "%d of %d entries schedulable\n", len(entries), len(cfg.Entries))
			if problems > 0 {
				return fmt.Errorf("%d problem(s) found", problems)
			}
			return nil
		},
	}
}

func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
