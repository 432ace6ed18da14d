package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-merger/internal/ffmpeg"
)

var errToolchainIncomplete = errors.New("ffmpeg toolchain cannot merge")

func newDoctorCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the ffmpeg toolchain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.config()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			doctor := ffmpeg.NewDoctor(ffmpeg.Config{
				FFmpegPath:  cfg.FFmpegPath(),
				FFprobePath: cfg.FFprobePath(),
			}, cc.cliLogger(cfg))

			caps, err := doctor.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderCapabilities(caps))
			if !caps.CanMerge {
				return errToolchainIncomplete
			}
			return nil
		},
	}
}

func renderCapabilities(caps *ffmpeg.Capabilities) string {
	rows := [][]string{
		toolRow("ffmpeg", caps.FFmpeg),
		toolRow("ffprobe", caps.FFprobe),
	}

	names := make([]string, 0, len(caps.Encoders))
	for name := range caps.Encoders {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rows = append(rows, []string{"encoder " + name, yesNo(caps.Encoders[name]), "", ""})
	}

	return renderTable([]string{"CHECK", "OK", "VERSION", "PATH / ERROR"}, rows, nil)
}

func toolRow(name string, t ffmpeg.ToolInfo) []string {
	detail := t.Path
	if t.Error != "" {
		detail = t.Error
	}
	return []string{name, yesNo(t.Available), t.Version, detail}
}

func yesNo(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}
