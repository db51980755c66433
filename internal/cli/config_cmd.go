package cli

import (
	"fmt"

	"github.com/cobuilders/inbox/internal/logging"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := logging.RedactMap(opts.loader.AllSettings())
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), settings)
			}
			data, err := yaml.Marshal(settings)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			out := cmd.OutOrStdout()
			if used := opts.loader.ConfigFileUsed(); used != "" {
				fmt.Fprintf(out, "# %s\n", used)
			}
			_, err = out.Write(data)
			return err
		},
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the database and context file paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeTable(cmd.OutOrStdout(), nil, [][]string{
				{"database", opts.cfg.DatabasePath()},
				{"context", opts.cfg.ContextPath()},
			})
		},
	}

	cmd.AddCommand(show, path)
	return cmd
}
