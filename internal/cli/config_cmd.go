package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			redacted := cfg.Redacted()
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), redacted)
			}
			data, err := yaml.Marshal(redacted)
			if err != nil {
				return Exitf(ExitCodeFailure, "encode config: %v", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the config file in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, loader, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			used := loader.ConfigFileUsed()
			if used == "" {
				used = "(none, defaults and environment only)"
			}
			fmt.Fprintln(cmd.OutOrStdout(), used)
			return nil
		},
	}

	cmd.AddCommand(show, path)
	return cmd
}
