package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/josefmoeggis/RobotGUI/config"
	"github.com/josefmoeggis/RobotGUI/internal/metrics"
	"github.com/josefmoeggis/RobotGUI/internal/rover/control"
	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/josefmoeggis/RobotGUI/internal/rover/drive"
	"github.com/josefmoeggis/RobotGUI/internal/rover/video"
	"github.com/josefmoeggis/RobotGUI/internal/server"
	"github.com/josefmoeggis/RobotGUI/internal/util"
	"github.com/pkg/browser"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type DriveOptions struct {
	EndpointOptions
	Orientation string
	PreviewPort int
	Open        bool
	NoVideo     bool
}

func NewDriveCommand() *cobra.Command {
	opts := &DriveOptions{}

	cmd := &cobra.Command{
		Use:   "drive",
		Short: "Drive the vehicle from the keyboard",
		Long: `Connect to the vehicle, stream steering and throttle commands and show its
video in a local preview page.

Keys:
  w / s      forward / reverse
  space      neutral
  + / -      throttle up / down
  0-9        throttle presets
  c / x      connect / disconnect
  q, Ctrl-C  quit`,
		Example: `  rover drive --host 192.168.4.1
  rover drive --profile garage --open
  rover drive --host rover.local --transport tcp --video-mode mjpeg
  sensor-bridge | rover drive --host rover.local --orientation stdin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrive(cmd, opts)
		},
	}

	flags := cmd.Flags()
	opts.addControlFlags(flags)
	opts.addVideoFlags(flags)
	flags.StringVar(&opts.Orientation, "orientation", "sim", "Orientation source (sim or stdin)")
	flags.IntVar(&opts.PreviewPort, "preview-port", config.GetPreviewPort(), "Local preview server port (0 picks a free port)")
	flags.BoolVar(&opts.Open, "open", false, "Open the preview page in the browser")
	flags.BoolVar(&opts.NoVideo, "no-video", false, "Do not receive video")

	cmd.RegisterFlagCompletionFunc("orientation", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"sim", "stdin"}, cobra.ShellCompDirectiveNoFileComp
	})
	cmd.RegisterFlagCompletionFunc("video-mode", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"push", "pull", "mjpeg"}, cobra.ShellCompDirectiveNoFileComp
	})
	cmd.RegisterFlagCompletionFunc("profile", completeProfileIDs)

	return cmd
}

func runDrive(cmd *cobra.Command, opts *DriveOptions) error {
	log := util.ComponentLogger("drive")

	eps, err := resolveEndpoints(opts.EndpointOptions, loadProfiles())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	ch, err := newControlChannel(eps.Transport, m)
	if err != nil {
		return err
	}
	ch.OnStateChange(func(from, to core.State) {
		entry := log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()})
		if to == core.StateFailed {
			entry = entry.WithError(ch.LastError())
		}
		entry.Info("Control channel state changed")
	})

	// Keys come from the terminal; with stdin carrying orientation they are
	// read from the controlling tty instead.
	keys := io.Reader(os.Stdin)
	var orient core.OrientationSource
	switch opts.Orientation {
	case "", "sim":
		orient = drive.NewSimulatedOrientation(nil, 0.35, 4*time.Second)
	case "stdin":
		reader := drive.NewReaderOrientation(os.Stdin, nil)
		go func() {
			if err := reader.Run(ctx); err != nil {
				log.WithError(err).Warn("Orientation input ended")
			}
		}()
		orient = reader
		keys = nil
		if tty, err := os.Open("/dev/tty"); err == nil {
			defer tty.Close()
			keys = tty
		}
	default:
		return errors.Errorf("unknown orientation source %q (sim or stdin)", opts.Orientation)
	}

	loop := drive.NewLoop(ch, orient, drive.LoopOptions{
		Tick:           config.GetDriveTick(),
		SamplingPeriod: config.GetSamplingPeriod(),
		MaxThrottle:    config.GetMaxThrottle(),
		Metrics:        m,
	})

	components := server.Components{
		Loop:        loop,
		Channel:     ch,
		VideoPort:   eps.Video.Port,
		ControlPort: eps.Control.Port,
		Gatherer:    reg,
	}
	if !opts.NoVideo {
		buf, src, err := newVideoPipeline(eps.VideoMode, m)
		if err != nil {
			return err
		}
		components.Video, components.Buffer = src, buf
		defer src.Stop()
		if eps.Video.Host != "" {
			if err := src.Start(ctx, eps.Video); err != nil {
				return err
			}
		}
	}

	preview := server.NewPreviewServer(opts.PreviewPort, components)
	if err := preview.Start(); err != nil {
		return err
	}
	defer preview.Stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", color.GreenString("Rover preview"), color.CyanString(preview.URL()))
	if opts.Open {
		if err := browser.OpenURL(preview.URL()); err != nil {
			log.WithError(err).Warn("Failed to open browser")
		}
	}

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(ctx)
	}()
	defer func() {
		loop.Disconnect()
		stop()
		<-loopDone
	}()

	if eps.Control.Host != "" {
		if err := loop.Connect(eps.Control); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, "No vehicle host configured; connect from the preview page or pass --host")
	}

	if keys == nil {
		fmt.Fprintln(out, "No terminal for key input; use the preview page. Press Ctrl-C to stop.")
		<-ctx.Done()
		return nil
	}

	if f, ok := keys.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		oldState, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			return errors.Wrap(err, "failed to switch terminal to raw mode")
		}
		defer term.Restore(int(f.Fd()), oldState)

		// Log lines would tear the status line in raw mode.
		logPath := filepath.Join(config.GetRoverHome(), "drive.log")
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err == nil {
			if lf, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600); err == nil {
				util.SetLogOutput(lf)
				defer func() {
					util.SetLogOutput(os.Stderr)
					lf.Close()
				}()
			}
		}
	}

	pressed := make(chan byte)
	go readKeys(keys, pressed)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	defer fmt.Fprint(out, "\r\n")

	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-pressed:
			if !ok {
				<-ctx.Done()
				return nil
			}
			if quit := handleKey(drive.MapKey(b), loop, eps.Control, out); quit {
				return nil
			}
		case <-ticker.C:
			fmt.Fprint(out, "\r"+statusLine(snapshotDrive(ch, loop, components.Buffer))+"\x1b[K")
		}
	}
}

func readKeys(r io.Reader, pressed chan<- byte) {
	defer close(pressed)
	buf := make([]byte, 16)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			pressed <- b
		}
		if err != nil {
			return
		}
	}
}

// handleKey applies one key press and reports whether the operator quit.
func handleKey(k drive.Key, loop *drive.Loop, ep core.Endpoint, out io.Writer) bool {
	if loop.Throttle().Apply(k) {
		return false
	}
	switch k.Action {
	case drive.KeyConnect:
		if ep.Host == "" {
			fmt.Fprint(out, "\r\nNo vehicle host configured\r\n")
			return false
		}
		if st := loop.State(); st == core.StateConnecting || st == core.StateConnected {
			return false
		}
		if err := loop.Connect(ep); err != nil {
			fmt.Fprintf(out, "\r\n%s\r\n", color.RedString(err.Error()))
		}
	case drive.KeyDisconnect:
		loop.Disconnect()
	case drive.KeyQuit:
		return true
	}
	return false
}

type driveSnapshot struct {
	State      core.State
	RetryCount int
	Endpoint   string
	FPS        int
	Intent     drive.Intent
	Magnitude  int
	Beta       float64
}

func snapshotDrive(ch *control.Channel, loop *drive.Loop, buf *video.Buffer) driveSnapshot {
	s := driveSnapshot{
		State:      ch.State(),
		RetryCount: ch.RetryCount(),
		Intent:     loop.Throttle().Intent(),
		Magnitude:  loop.Throttle().Magnitude(),
		Beta:       loop.LastBeta(),
	}
	if ep := ch.Endpoint(); ep.Host != "" {
		s.Endpoint = ep.String()
	}
	if buf != nil {
		s.FPS = buf.Rate()
	}
	return s
}

// statusLine renders one terminal line for the snapshot.
func statusLine(s driveSnapshot) string {
	var state string
	switch s.State {
	case core.StateConnected:
		state = color.GreenString(s.State.String())
	case core.StateConnecting:
		state = color.YellowString("%s (retry %d)", s.State, s.RetryCount)
	case core.StateFailed:
		state = color.RedString(s.State.String())
	default:
		state = color.New(color.Faint).Sprint(s.State.String())
	}

	parts := []string{state}
	if s.Endpoint != "" {
		parts = append(parts, s.Endpoint)
	}
	parts = append(parts,
		fmt.Sprintf("%2d fps", s.FPS),
		fmt.Sprintf("%-7s %3d", s.Intent, s.Magnitude),
		fmt.Sprintf("beta %+6.1f", s.Beta),
	)
	return strings.Join(parts, " | ")
}
