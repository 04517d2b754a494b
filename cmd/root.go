package cmd

import (
	"fmt"

	"github.com/josefmoeggis/RobotGUI/internal/util"
	"github.com/josefmoeggis/RobotGUI/internal/version"
	"github.com/spf13/cobra"
)

var rootCmd = newRootCommand()

func newRootCommand() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "rover",
		Short: "Rover remote-drive tool",
		Long: `Rover drives a small vehicle over the network: it streams steering and
throttle commands to the vehicle's control channel and shows its video feed.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.InitLogger(verbose)
			util.SetupGlobalLogger()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flag("version").Changed {
				info := version.ClientInfo()
				fmt.Fprintf(cmd.OutOrStdout(), "Rover version %s, build %s\n", info["Version"], info["GitCommit"])
				return nil
			}
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
	cmd.Flags().BoolP("version", "v", false, "Print version information and exit")

	cmd.AddCommand(NewDriveCommand())
	cmd.AddCommand(NewViewCommand())
	cmd.AddCommand(NewSimCommand())
	cmd.AddCommand(NewProfileCommand())
	cmd.AddCommand(NewVersionCommand())

	// Enable custom help output ordering
	setupHelpCommand(cmd)
	return cmd
}

func Execute() error {
	return rootCmd.Execute()
}
