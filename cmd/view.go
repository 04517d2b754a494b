package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/josefmoeggis/RobotGUI/internal/rover/video"
	"github.com/josefmoeggis/RobotGUI/internal/util"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type ViewOptions struct {
	EndpointOptions
	SaveDir  string
	Duration time.Duration
}

func NewViewCommand() *cobra.Command {
	opts := &ViewOptions{}

	cmd := &cobra.Command{
		Use:   "view",
		Short: "Receive the vehicle's video without driving",
		Long:  "Receive frames from the vehicle, print the frame rate once per second and optionally save the current frame.",
		Example: `  rover view --video-host 192.168.4.1
  rover view --video-host rover.local --video-mode pull --save ./frames
  rover view --profile garage --duration 30s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runView(cmd, opts)
		},
	}

	flags := cmd.Flags()
	opts.addVideoFlags(flags)
	flags.StringVar(&opts.Host, "host", "", "Vehicle host, used when --video-host is not set")
	flags.StringVar(&opts.SaveDir, "save", "", "Directory to save the current frame to once per second")
	flags.DurationVar(&opts.Duration, "duration", 0, "Stop after this long (0 runs until interrupted)")

	cmd.RegisterFlagCompletionFunc("profile", completeProfileIDs)
	return cmd
}

func runView(cmd *cobra.Command, opts *ViewOptions) error {
	eps, err := resolveEndpoints(opts.EndpointOptions, loadProfiles())
	if err != nil {
		return err
	}
	if eps.Video.Host == "" {
		return errors.New("no video host configured; pass --video-host, --host or --profile")
	}
	if opts.SaveDir != "" {
		if err := os.MkdirAll(opts.SaveDir, 0o755); err != nil {
			return errors.Wrap(err, "failed to create save directory")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	buf, src, err := newVideoPipeline(eps.VideoMode, nil)
	if err != nil {
		return err
	}
	if err := src.Start(ctx, eps.Video); err != nil {
		return err
	}
	defer src.Stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Receiving %s video from %s\n", eps.VideoMode, color.CyanString(eps.Video.String()))

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var saved uint64
	for {
		select {
		case <-ctx.Done():
			stats := buf.Stats()
			fmt.Fprintf(out, "%d frames committed, %d stale, %d invalid\n", stats.Committed, stats.Stale, stats.Invalid)
			return nil
		case <-ticker.C:
			fmt.Fprintf(out, "%s %2d fps (last frame %d)\n", src.State(), buf.Rate(), buf.LastSequence())
			if opts.SaveDir == "" {
				continue
			}
			pic, ok := buf.CurrentFrame()
			if !ok || pic.Frame.Sequence == saved {
				continue
			}
			path, err := saveFrame(opts.SaveDir, pic)
			if err != nil {
				return err
			}
			saved = pic.Frame.Sequence
			util.ComponentLogger("view").WithField("path", path).Debug("Saved frame")
		}
	}
}

func saveFrame(dir string, pic video.Picture) (string, error) {
	ext := ".bin"
	switch pic.ContentType {
	case "image/jpeg":
		ext = ".jpg"
	case "image/png":
		ext = ".png"
	case "image/gif":
		ext = ".gif"
	case "image/webp":
		ext = ".webp"
	}
	path := filepath.Join(dir, fmt.Sprintf("frame-%06d%s", pic.Frame.Sequence, ext))
	if err := os.WriteFile(path, pic.Frame.Payload, 0o644); err != nil {
		return "", errors.Wrap(err, "failed to save frame")
	}
	return path, nil
}
