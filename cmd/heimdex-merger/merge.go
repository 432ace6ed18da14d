package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-merger/internal/export"
	"github.com/heimdex/heimdex-merger/internal/ffmpeg"
	"github.com/heimdex/heimdex-merger/internal/library"
	"github.com/heimdex/heimdex-merger/internal/logging"
	"github.com/heimdex/heimdex-merger/internal/merge"
)

type mergeFlags struct {
	outputDir string
	name      string
	edl       bool
}

func newMergeCommand(cc *commandContext) *cobra.Command {
	var flags mergeFlags

	cmd := &cobra.Command{
		Use:   "merge [flags] CLIP...",
		Short: "Merge clips once without the daemon",
		Long: "Merge the given clips in order into one movie. The result is moved into\n" +
			"--output-dir under a free name derived from --name.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.config()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := cc.cliLogger(cfg)

			if err := os.MkdirAll(cfg.TempDir(), 0755); err != nil {
				return fmt.Errorf("failed to create temp dir: %w", err)
			}
			engine := merge.NewEngine(ffmpeg.NewBackend(ffmpeg.Config{
				FFmpegPath:    cfg.FFmpegPath(),
				FFprobePath:   cfg.FFprobePath(),
				ExportTimeout: cfg.ExportTimeout(),
				Logger:        logger,
			}), merge.Options{TempDir: cfg.TempDir(), Logger: logger})

			lib, err := library.NewDirLibrary(flags.outputDir, logger)
			if err != nil {
				return err
			}

			return runMerge(cmd, engine, lib, args, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.outputDir, "output-dir", "o", ".", "Directory that receives the merged movie")
	cmd.Flags().StringVarP(&flags.name, "name", "n", "merge", "File name for the merged movie, without extension")
	cmd.Flags().BoolVar(&flags.edl, "edl", false, "Also write a CMX3600 EDL next to the movie")

	return cmd
}

func runMerge(cmd *cobra.Command, engine *merge.Engine, lib *library.DirLibrary, args []string, flags mergeFlags) error {
	ctx := cmd.Context()
	clips := make([]merge.SourceClip, len(args))
	for i, a := range args {
		clips[i] = merge.SourceClip(a)
	}

	var opts []merge.StartOption
	stderr := cmd.ErrOrStderr()
	showProgress := isTerminalWriter(stderr)
	if showProgress {
		opts = append(opts, merge.WithProgress(func(frac float64) {
			fmt.Fprintf(stderr, "\rmerging %3d%%", int(frac*100))
		}))
	}

	// Interrupts cancel ctx, which stops the export; the task still reports.
	task := engine.Start(ctx, clips, opts...)
	<-task.Done()
	res, _ := task.Result()
	if showProgress {
		fmt.Fprintln(stderr)
	}
	if res.Err != nil {
		return fmt.Errorf("merge failed [%s]: %w", merge.ErrorCode(res.Err), res.Err)
	}

	name := export.SanitizeName(flags.name, 120)
	final, err := lib.Save(ctx, res.OutputPath, name)
	if err != nil {
		os.Remove(res.OutputPath)
		return fmt.Errorf("save merged movie: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), final)

	if flags.edl {
		edlPath, err := export.WriteSidecar(final, name, clips, res.Plan)
		if err != nil {
			return fmt.Errorf("write edl: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), edlPath)
	}
	return nil
}

func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && logging.IsTerminal(f)
}
