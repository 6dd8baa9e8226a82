package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ent0n29/imsgrelay/internal/httpapi"
)

var errPreflightFailed = errors.New("preflight failed")

func newDoctorCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that the relay's dependencies are in place",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.load(true)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, sectionStyle.Render("imsgrelay preflight"))
			if verr := cfg.Validate(); verr != nil {
				fmt.Fprintln(out, errorStyle.Render("✗ config"), verr)
			}

			report := httpapi.Preflight(cfg)
			for _, check := range report.Checks {
				var mark string
				switch check.Status {
				case "ok":
					mark = successStyle.Render("✓ " + check.Label)
				case "warn":
					mark = warningStyle.Render("! " + check.Label)
				default:
					mark = errorStyle.Render("✗ " + check.Label)
				}
				fmt.Fprintf(out, "%s  %s\n", mark, check.Detail)
				if check.Fix != "" && check.Status != "ok" {
					fmt.Fprintf(out, "    %s\n", infoStyle.Render(check.Fix))
				}
			}
			if !report.OK || cfg.Validate() != nil {
				return errPreflightFailed
			}
			return nil
		},
	}
}
