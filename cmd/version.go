package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/josefmoeggis/RobotGUI/internal/version"
	"github.com/spf13/cobra"
)

type VersionOptions struct {
	OutputFormat string
}

func NewVersionCommand() *cobra.Command {
	opts := &VersionOptions{}

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Example: `  rover version
  rover version --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.ClientInfo()
			out := cmd.OutOrStdout()

			if opts.OutputFormat == "json" {
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal version info: %v", err)
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			fmt.Fprintf(out, "Rover:\n")
			fmt.Fprintf(out, "  Version:       %s\n", info["Version"])
			fmt.Fprintf(out, "  Wire version:  %s\n", info["WireVersion"])
			fmt.Fprintf(out, "  Go version:    %s\n", info["GoVersion"])
			fmt.Fprintf(out, "  Git commit:    %s\n", info["GitCommit"])
			fmt.Fprintf(out, "  Built:         %s\n", info["FormattedTime"])
			fmt.Fprintf(out, "  OS/Arch:       %s/%s\n", info["OS"], info["Arch"])
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.OutputFormat, "output", "o", "text", "Output format (json or text)")
	cmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"json", "text"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}
