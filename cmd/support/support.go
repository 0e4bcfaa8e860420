// Package support collects a sanitized diagnostics dump for issue reports.
package support

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyescribe/hyescribe/internal/conf"
	"github.com/hyescribe/hyescribe/internal/diagnostics"
)

// Command creates the support command.
func Command(settings *conf.Settings, version string) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "support",
		Short: "Collect a sanitized diagnostics dump",
		Long:  "Write a YAML snapshot of the host environment and the sanitized configuration. API keys and passwords are redacted before anything is written.",
		RunE: func(cmd *cobra.Command, args []string) error {
			dump := diagnostics.CollectSupportDump(settings, version)
			if err := diagnostics.WriteSupportDump(dump, outPath); err != nil {
				return err
			}
			fmt.Printf("Support dump written to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "hyescribe-support.yaml", "Output file path")
	return cmd
}
