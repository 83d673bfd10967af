package commands

import (
	"fmt"

	"github.com/bryanchriswhite/feedview/internal/source"
	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Discover the frame size of a decoder's output",
	Long: `Run a short-lived probe command and parse the frame dimensions from what it
prints: GStreamer caps, key=value lines or ffmpeg stream info.

Without --command, source.probe from the config is used.`,
	Example: `  # GStreamer caps
  feedview probe --command 'gst-launch-1.0 -v filesrc location=in.mp4 ! decodebin ! fakesink num-buffers=1'

  # ffprobe
  feedview probe --command 'ffprobe -v error -show_entries stream=width,height in.mp4'`,
	RunE: runProbe,
}

var (
	probeCommand string
	probeWrite   bool
)

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().StringVarP(&probeCommand, "command", "c", "", "probe command (default is source.probe)")
	probeCmd.Flags().BoolVarP(&probeWrite, "save", "s", false, "store the size as frame.width and frame.height")
}

func runProbe(cmd *cobra.Command, args []string) error {
	configMgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	command := probeCommand
	if command == "" {
		command = cfg.Source.Probe
	}
	if command == "" {
		return fmt.Errorf("no probe command: pass --command or set source.probe")
	}

	width, height, err := source.Probe(command, probeTimeout)
	if err != nil {
		return err
	}
	fmt.Printf("%dx%d\n", width, height)

	if probeWrite {
		stored := configMgr.Get()
		stored.Frame.Width = width
		stored.Frame.Height = height
		if err := configMgr.Update(stored); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
	}
	return nil
}
