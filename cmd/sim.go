package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/josefmoeggis/RobotGUI/config"
	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/josefmoeggis/RobotGUI/internal/rover/sim"
	"github.com/josefmoeggis/RobotGUI/internal/util"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type SimOptions struct {
	Bind        string
	ControlPort int
	VideoPort   int
	TCPPort     int
	FPS         int
	Width       int
	Height      int
}

func NewSimCommand() *cobra.Command {
	opts := &SimOptions{}

	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run a simulated vehicle",
		Long: `Run a simulated vehicle that accepts control records over WebSocket (and
optionally newline-delimited TCP) and serves generated camera frames on the
video port as a WebSocket push stream (/), single frames (/frame) and MJPEG
(/stream). When the video port equals the control port the push stream moves
to /video; set ROVER_VIDEO_PATH=/video to drive it.`,
		Example: `  rover sim
  rover sim --control-port 8765 --video-port 5000 --tcp-port 8766 --fps 30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSim(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Bind, "bind", "127.0.0.1", "Address to listen on")
	flags.IntVar(&opts.ControlPort, "control-port", config.GetControlPort(), "WebSocket control port")
	flags.IntVar(&opts.VideoPort, "video-port", config.GetVideoPort(), "Video port (may equal the control port)")
	flags.IntVar(&opts.TCPPort, "tcp-port", 0, "Newline-delimited TCP control port (0 disables)")
	flags.IntVar(&opts.FPS, "fps", 25, "Frame rate of pushed and streamed video")
	flags.IntVar(&opts.Width, "width", 320, "Frame width")
	flags.IntVar(&opts.Height, "height", 240, "Frame height")

	return cmd
}

func runSim(cmd *cobra.Command, opts *SimOptions) error {
	log := util.ComponentLogger("sim")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vehicle := sim.NewVehicle(sim.Options{
		FPS:    opts.FPS,
		Frames: sim.NewFrameGenerator(opts.Width, opts.Height),
	})

	type listener struct {
		name    string
		port    int
		handler http.Handler
	}
	listeners := []listener{{"Simulated vehicle", opts.ControlPort, vehicle.Handler()}}
	if opts.VideoPort != opts.ControlPort {
		listeners = append(listeners, listener{"Simulated camera", opts.VideoPort, vehicle.VideoHandler()})
	}

	g, ctx := errgroup.WithContext(ctx)
	out := cmd.OutOrStdout()

	for _, l := range listeners {
		ln, err := net.Listen("tcp", net.JoinHostPort(opts.Bind, fmt.Sprint(l.port)))
		if err != nil {
			return errors.Wrapf(err, "failed to listen on port %d", l.port)
		}
		srv := &http.Server{Handler: l.handler, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			vehicle.DropConnections()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		fmt.Fprintf(out, "%s listening on %s\n", color.GreenString(l.name), color.CyanString(ln.Addr().String()))
	}

	if opts.TCPPort != 0 {
		ln, err := net.Listen("tcp", net.JoinHostPort(opts.Bind, fmt.Sprint(opts.TCPPort)))
		if err != nil {
			return errors.Wrapf(err, "failed to listen on port %d", opts.TCPPort)
		}
		g.Go(func() error {
			return vehicle.ServeTCP(ctx, ln)
		})
		fmt.Fprintf(out, "%s listening on %s\n", color.GreenString("TCP control"), color.CyanString(ln.Addr().String()))
	}

	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				beta, okBeta := vehicle.Recorder().Last(core.KindBeta)
				speed, okSpeed := vehicle.Recorder().Last(core.KindSpeed)
				if !okBeta && !okSpeed {
					continue
				}
				log.WithField("connections", vehicle.Connections()).
					Infof("beta %+.1f speed %+.0f (%d records)", beta.Value, speed.Value, len(vehicle.Recorder().Records()))
			}
		}
	})

	return g.Wait()
}
