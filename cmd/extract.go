package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/facegrid/internal/extraction"
	"github.com/andresmejia3/facegrid/internal/types"
	"github.com/andresmejia3/facegrid/internal/utils"
	"github.com/andresmejia3/facegrid/internal/video"
	"github.com/spf13/cobra"
)

type extractOptions struct {
	EngineOptions

	OutputDir string
	NthFrame  int
	Width     int
}

var extractOpts extractOptions

var extractCmd = &cobra.Command{
	Use:   "extract <video>",
	Short: "Save every face found in a video as face_<n>.jpg",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runExtract(cmd.Context(), args[0], extractOpts)
	},
}

func init() {
	f := extractCmd.Flags()
	addEngineFlags(f, &extractOpts.EngineOptions, 1)
	f.StringVarP(&extractOpts.OutputDir, "out", "o", "faces", "Folder receiving the face crops")
	f.IntVarP(&extractOpts.NthFrame, "nth-frame", "n", 10, "Look for faces in every Nth frame")
	f.IntVarP(&extractOpts.Width, "width", "w", 0, "Downscale frames to this width before detection (0 keeps the source size)")
	rootCmd.AddCommand(extractCmd)
}

func validateExtractFlags(input string, opts *extractOptions) error {
	if !video.IsNetworkURL(input) {
		info, err := os.Stat(input)
		if err != nil {
			return fmt.Errorf("input file: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("input path %s is a directory, expected a video file", input)
		}
	}
	if opts.NthFrame < 1 {
		return fmt.Errorf("nth-frame must be >= 1, got %d", opts.NthFrame)
	}
	if opts.OutputDir == "" {
		return errors.New("an output folder is required")
	}
	return validateEngineFlags(&opts.EngineOptions)
}

func runExtract(ctx context.Context, input string, opts extractOptions) error {
	if err := validateExtractFlags(input, &opts); err != nil {
		utils.ShowError("Invalid arguments", err, nil)
		return err
	}
	logger := newLogger()

	pool, err := startEngines(opts.EngineOptions, 1, logger)
	if err != nil {
		utils.ShowError("Failed to start face engine", err, nil)
		return err
	}
	defer pool.Close()

	total := 0
	if !video.IsNetworkURL(input) {
		total = max(video.GetTotalFrames(input), 0)
	}

	ex, err := extraction.New(extraction.Config{
		VideoPath:   input,
		OutputDir:   opts.OutputDir,
		Interval:    opts.NthFrame,
		TotalFrames: total,
	}, video.FFmpegSource{Width: opts.Width}, pool, logger)
	if err != nil {
		utils.ShowError("Invalid extraction", err, nil)
		return err
	}

	res, err := runJob(ctx, "extract", "✂️  Extracting faces", ex.Run)
	if errors.Is(err, types.ErrJobCancelled) {
		fmt.Fprintln(os.Stderr, "🛑 Extraction cancelled.")
		return nil
	}
	if err != nil {
		utils.ShowError("Extraction failed", err, nil)
		return err
	}

	fmt.Printf("✅ Saved %d face(s) from %d of %d frames to %s\n", res.Faces, res.Scanned, res.Frames, opts.OutputDir)
	return nil
}
