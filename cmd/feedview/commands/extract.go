package commands

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/bryanchriswhite/feedview/internal/frame"
	"github.com/bryanchriswhite/feedview/internal/logger"
	"github.com/bryanchriswhite/feedview/internal/output"
	"github.com/bryanchriswhite/feedview/internal/source"
	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Write every frame of a captured stream to image files",
	Long: `Feed a captured stream through the same reassembly pipeline used by play
and write each decoded frame to DIR as frame_000001.png, frame_000002.png, ...`,
	Example: `  # Dump a raw RGB capture as PNGs
  FEEDVIEW_FRAME_MODE=fixed FEEDVIEW_FRAME_WIDTH=640 FEEDVIEW_FRAME_HEIGHT=480 \
  FEEDVIEW_FRAME_LAYOUT=rgb24 feedview extract --input capture.rgb --out frames

  # Split an MJPEG capture into JPEG files
  feedview extract --input capture.mjpeg --out frames --format jpeg`,
	RunE: runExtract,
}

var (
	extractInput  string
	extractOut    string
	extractFormat string
)

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringVarP(&extractInput, "input", "i", "", "captured stream, or - for stdin")
	extractCmd.Flags().StringVarP(&extractOut, "out", "o", ".", "output directory")
	extractCmd.Flags().StringVarP(&extractFormat, "format", "f", "png", "image format (png or jpeg)")
	extractCmd.MarkFlagRequired("input")
}

func runExtract(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.WithComponent("extract")

	encode, ext, err := imageEncoder(extractFormat, cfg.Output.MJPEG.Quality)
	if err != nil {
		return err
	}

	spec, err := resolveSpec(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(extractOut, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	in := io.Reader(os.Stdin)
	if extractInput != "-" {
		f, err := os.Open(extractInput)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	var writeErr error
	written := 0
	sink := frame.SinkFunc(func(d *frame.Decoded) {
		if writeErr != nil {
			return
		}
		name := filepath.Join(extractOut, fmt.Sprintf("frame_%06d.%s", d.Seq, ext))
		if writeErr = writeImage(name, d.Image, encode); writeErr == nil {
			written++
		}
	})

	pipeline, err := frame.NewPipeline(spec, sink)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	if err := extractFrames(in, pipeline); err != nil {
		return err
	}
	if writeErr != nil {
		return fmt.Errorf("failed to write frame: %w", writeErr)
	}

	stats := pipeline.Stats()
	log.Info().
		Int("written", written).
		Uint64("corrupt", stats.FramesCorrupt).
		Uint64("desyncs", stats.Desyncs).
		Int("residual", pipeline.Buffered()).
		Msg("Extraction complete")
	fmt.Printf("%d frames written to %s\n", written, extractOut)
	return nil
}

// extractFrames pushes the whole input through the pipeline. Offline there is
// no tick rate, each chunk is processed as soon as it is read.
func extractFrames(r io.Reader, p *frame.Pipeline) error {
	buf := make([]byte, source.DefaultChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, perr := p.Push(buf[:n]); perr != nil && !errors.Is(perr, frame.ErrDesynchronized) {
				return perr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
	}
}

type encodeFunc func(io.Writer, image.Image) error

func imageEncoder(format string, quality int) (encodeFunc, string, error) {
	switch format {
	case "png":
		return png.Encode, "png", nil
	case "jpeg", "jpg":
		if quality <= 0 {
			quality = output.DefaultQuality
		}
		return func(w io.Writer, img image.Image) error {
			return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
		}, "jpg", nil
	default:
		return nil, "", fmt.Errorf("unsupported format: %s (use 'png' or 'jpeg')", format)
	}
}

func writeImage(name string, img image.Image, encode encodeFunc) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
