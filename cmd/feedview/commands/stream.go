package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bryanchriswhite/feedview/internal/config"
	"github.com/bryanchriswhite/feedview/internal/frame"
	"github.com/bryanchriswhite/feedview/internal/logger"
	"github.com/bryanchriswhite/feedview/internal/session"
	"github.com/bryanchriswhite/feedview/internal/source"
)

const probeTimeout = 10 * time.Second

// resolveSpec builds the frame spec, probing for the frame size when fixed
// mode is configured without one
func resolveSpec(cfg *config.Config) (frame.Spec, error) {
	fc := cfg.Frame
	if strings.EqualFold(fc.Mode, string(frame.ModeFixed)) && (fc.Width == 0 || fc.Height == 0) && cfg.Source.Probe != "" {
		width, height, err := source.Probe(cfg.Source.Probe, probeTimeout)
		if err != nil {
			return frame.Spec{}, fmt.Errorf("failed to probe frame size: %w", err)
		}
		fc.Width, fc.Height = width, height
	}

	spec, err := fc.Spec()
	if err != nil {
		return frame.Spec{}, fmt.Errorf("invalid frame config: %w", err)
	}
	return spec, nil
}

// openStream starts the byte source: a file, stdin ("-") or a decoder
// command. The returned stop function releases it.
func openStream(input, command string) (session.Stream, func(), error) {
	log := logger.WithComponent("source")

	switch {
	case input != "" && command != "":
		return nil, nil, fmt.Errorf("--input and --command are mutually exclusive")

	case input == "-":
		reader := source.NewReader(os.Stdin, 0, 0)
		reader.Start()
		log.Info().Msg("Reading frames from stdin")
		return reader, reader.Stop, nil

	case input != "":
		f, err := os.Open(input)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open input: %w", err)
		}
		reader := source.NewReader(f, 0, 0)
		reader.Start()
		log.Info().Str("file", input).Msg("Reading frames from file")
		return reader, func() {
			reader.Stop()
			f.Close()
		}, nil

	case command != "":
		proc, err := source.NewProcess(command)
		if err != nil {
			return nil, nil, err
		}
		if err := proc.Start(); err != nil {
			return nil, nil, err
		}
		return proc, func() {
			if err := proc.Stop(); err != nil {
				log.Warn().Err(err).Msg("Failed to stop decoder")
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("no source: pass --input, --command or set source.command")
	}
}
