package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/josefmoeggis/RobotGUI/internal/profile"
	"github.com/spf13/cobra"
)

type ProfileAddOptions struct {
	Name      string
	Host      string
	Port      int
	Transport string
	VideoHost string
	VideoPort int
	VideoMode string
}

func NewProfileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage saved vehicles",
		Long:  `Manage saved vehicle profiles: control endpoint, transport and video settings.`,
	}

	cmd.AddCommand(newProfileListCommand())
	cmd.AddCommand(newProfileAddCommand())
	cmd.AddCommand(newProfileUseCommand())
	cmd.AddCommand(newProfileDeleteCommand())
	cmd.AddCommand(newProfileCurrentCommand())
	return cmd
}

func loadProfileManager() (*profile.Manager, error) {
	pm := profile.NewManager()
	if err := pm.Load(); err != nil {
		return nil, err
	}
	return pm, nil
}

func newProfileListCommand() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := loadProfileManager()
			if err != nil {
				return err
			}
			return pm.List(cmd.OutOrStdout(), outputFormat)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "Output format (json or text)")
	return cmd
}

func newProfileAddCommand() *cobra.Command {
	opts := &ProfileAddOptions{}

	cmd := &cobra.Command{
		Use:   "add [--name NAME] --host HOST [--port PORT]",
		Short: "Save a vehicle profile",
		Example: `  rover profile add --name garage --host 192.168.4.1
  rover profile add --host rover.local --transport tcp --port 8766 --video-mode mjpeg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := loadProfileManager()
			if err != nil {
				return err
			}

			id, err := pm.Add(opts.Name, profile.Profile{
				ControlHost: opts.Host,
				ControlPort: opts.Port,
				Transport:   opts.Transport,
				VideoHost:   opts.VideoHost,
				VideoPort:   opts.VideoPort,
				VideoMode:   opts.VideoMode,
			})
			if err != nil {
				return err
			}
			if err := pm.Save(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Profile %s saved\n", color.GreenString(id))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.Name, "name", "n", "", "Profile name (defaults to the host)")
	flags.StringVarP(&opts.Host, "host", "H", "", "Vehicle host")
	flags.IntVarP(&opts.Port, "port", "p", 8765, "Vehicle control port")
	flags.StringVarP(&opts.Transport, "transport", "t", "", "Control transport (ws or tcp)")
	flags.StringVar(&opts.VideoHost, "video-host", "", "Video host (defaults to the vehicle host)")
	flags.IntVar(&opts.VideoPort, "video-port", 0, "Video port")
	flags.StringVar(&opts.VideoMode, "video-mode", "", "Frame source (push, pull or mjpeg)")
	cmd.MarkFlagRequired("host")
	return cmd
}

func newProfileUseCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "use ID",
		Short:             "Set current profile",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeProfileIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := loadProfileManager()
			if err != nil {
				return err
			}
			id, err := resolveProfileIDPrefix(pm, args[0])
			if err != nil {
				return err
			}
			if err := pm.Use(id); err != nil {
				return err
			}
			if err := pm.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Switched to profile %s\n", color.GreenString(id))
			return nil
		},
	}
}

func newProfileDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "delete ID",
		Short:             "Delete specified profile",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeProfileIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := loadProfileManager()
			if err != nil {
				return err
			}
			id, err := resolveProfileIDPrefix(pm, args[0])
			if err != nil {
				return err
			}
			if err := pm.Remove(id); err != nil {
				return err
			}
			if err := pm.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Profile %s deleted\n", id)
			return nil
		},
	}
}

func newProfileCurrentCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Show current profile information",
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := loadProfileManager()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			id, p, err := pm.Current()
			if err != nil {
				fmt.Fprintln(out, "No current profile set")
				return nil
			}

			fmt.Fprintln(out, "Current Profile:")
			fmt.Fprintf(out, "  Profile:    %s\n", id)
			fmt.Fprintf(out, "  Control:    %s (%s)\n", p.Control(), p.Transport)
			fmt.Fprintf(out, "  Video:      %s\n", p.Video())
			if p.VideoMode != "" {
				fmt.Fprintf(out, "  Video mode: %s\n", p.VideoMode)
			}
			return nil
		},
	}
}
