package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/feedview/internal/api"
	"github.com/bryanchriswhite/feedview/internal/display"
	"github.com/bryanchriswhite/feedview/internal/frame"
	"github.com/bryanchriswhite/feedview/internal/logger"
	"github.com/bryanchriswhite/feedview/internal/metrics"
	"github.com/bryanchriswhite/feedview/internal/output"
	"github.com/bryanchriswhite/feedview/internal/overlay"
	"github.com/bryanchriswhite/feedview/internal/session"
	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Reassemble a live stream and present it",
	Long: `Run the source, the reassembly loop, the outputs and the HTTP server until
interrupted or the stream ends.

The source is a decoder command (--command or source.command in the config)
whose stdout carries the frames, a captured file, or stdin.`,
	Example: `  # Raw RGBA frames from GStreamer
  feedview play --command 'gst-launch-1.0 -q videotestsrc ! video/x-raw,format=RGBA,width=320,height=240 ! fdsink'

  # JPEG frames piped in, markers come from the default config
  ffmpeg -i cam.mp4 -f mjpeg - | feedview play --input -

  # Serve on a custom port with debug logging
  feedview play --input capture.bin --port 9090 --log-level debug`,
	RunE: runPlay,
}

const shutdownTimeout = 5 * time.Second

var (
	playInput   string
	playCommand string
)

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().StringVarP(&playInput, "input", "i", "", "read the stream from FILE, or - for stdin")
	playCmd.Flags().StringVarP(&playCommand, "command", "c", "", "decoder command whose stdout is the stream")
}

func runPlay(cmd *cobra.Command, args []string) error {
	configMgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.WithComponent("play")
	log.Info().Str("config", configMgr.GetConfigPath()).Msg("Configuration loaded")

	spec, err := resolveSpec(cfg)
	if err != nil {
		return err
	}

	command := playCommand
	if command == "" && playInput == "" {
		command = cfg.Source.Command
	}

	// Outputs
	fanout := output.NewFanout()
	latest := output.NewLatest()
	fanout.Add(latest)

	var mjpeg *output.MJPEGOutput
	if cfg.Output.MJPEG.Enabled {
		mjpeg = output.NewMJPEGOutput(output.Config{Quality: cfg.Output.MJPEG.Quality})
		fanout.Add(mjpeg)
	}
	if cfg.Output.Display.Enabled {
		win, err := display.NewManager(cfg.Output.Display.Width, cfg.Output.Display.Height)
		if err != nil {
			return fmt.Errorf("failed to create display: %w", err)
		}
		fanout.Add(win)
	}

	pipeline, err := frame.NewPipeline(spec, fanout)
	if err != nil {
		return err
	}

	overlayMgr := overlay.NewManager(pipeline.Stats)
	overlayMgr.LoadFromConfig(cfg.Overlay.Widgets)
	overlayMgr.SetEnabled(cfg.Overlay.Enabled)
	fanout.SetOverlay(overlayMgr)

	opts := api.Options{
		Stats:   pipeline,
		Config:  configMgr,
		MJPEG:   mjpeg,
		Latest:  latest,
		Outputs: fanout,
		Overlay: overlayMgr,
	}
	if cfg.Metrics.Enabled {
		pm := metrics.NewPipelineMetrics()
		pipeline.SetObserver(pm)
		opts.Metrics = pm.Handler()
	}

	if err := fanout.Start(); err != nil {
		return err
	}
	defer fanout.Stop()

	stream, stop, err := openStream(playInput, command)
	if err != nil {
		return err
	}
	defer stop()

	runner, err := session.NewRunner(stream, pipeline, cfg.Pipeline.FPS)
	if err != nil {
		return err
	}

	server := api.NewServer(opts)
	go func() {
		if err := server.Start(cfg.ServerPort); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()
	defer func() {
		if err := stopSession(fanout, server, shutdownTimeout); err != nil {
			log.Warn().Err(err).Msg("Server shutdown")
		}
	}()

	log.Info().
		Str("session", pipeline.Session()).
		Str("spec", spec.String()).
		Int("port", cfg.ServerPort).
		Msg("feedview is running")
	if mjpeg != nil {
		fmt.Fprintf(os.Stderr, "   - Viewer: http://localhost:%d/\n", cfg.ServerPort)
	}
	fmt.Fprintf(os.Stderr, "   - API: http://localhost:%d/api\n", cfg.ServerPort)
	fmt.Fprintln(os.Stderr, "   - Press Ctrl+C to stop")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = runner.Run(ctx)
	stats := pipeline.Stats()
	log.Info().
		Uint64("published", stats.FramesPublished).
		Uint64("corrupt", stats.FramesCorrupt).
		Uint64("desyncs", stats.Desyncs).
		Msg("Shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// stopSession stops the outputs, then the server. Open /stream responses end
// when the MJPEG output stops, so the server has nothing left to wait for.
func stopSession(fanout *output.Fanout, server *api.Server, timeout time.Duration) error {
	fanout.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return server.Shutdown(ctx)
}
