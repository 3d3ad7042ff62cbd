package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/facegrid/internal/registration"
	"github.com/andresmejia3/facegrid/internal/types"
	"github.com/andresmejia3/facegrid/internal/utils"
	"github.com/spf13/cobra"
)

type registerOptions struct {
	EngineOptions

	References    []string
	CandidateDir  string
	ReferenceDir  string
	Tolerance     float64
	FallbackLimit int
	Keep          bool
}

var registerOpts registerOptions

var registerCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "Add the faces in a folder of images to the identity store under one name",
	Long: "Compares every image in --candidates with up to three --ref images and stores the embeddings of those that match. " +
		"Without usable reference faces the first --fallback images are accepted as they are.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runRegister(cmd.Context(), args[0], registerOpts)
	},
}

func init() {
	f := registerCmd.Flags()
	addEngineFlags(f, &registerOpts.EngineOptions, 1)
	f.StringSliceVarP(&registerOpts.References, "ref", "r", nil, "Reference image of the person (repeat up to 3 times)")
	f.StringVarP(&registerOpts.CandidateDir, "candidates", "c", "", "Folder of candidate images, e.g. the output of extract")
	f.StringVar(&registerOpts.ReferenceDir, "reference-dir", "reference_images", "Folder receiving <name>.jpg, a copy of the first accepted image")
	f.Float64VarP(&registerOpts.Tolerance, "tolerance", "t", 0.5, "Face matching tolerance (lower is stricter)")
	f.IntVar(&registerOpts.FallbackLimit, "fallback", registration.DefaultFallbackLimit, "Images accepted unchecked when no reference face is found")
	f.BoolVar(&registerOpts.Keep, "keep", false, "Leave accepted images in the candidate folder")
	registerCmd.MarkFlagRequired("candidates")
	rootCmd.AddCommand(registerCmd)
}

func validateRegisterFlags(opts *registerOptions) error {
	if len(opts.References) > registration.MaxReferences {
		return fmt.Errorf("at most %d reference images are allowed, got %d", registration.MaxReferences, len(opts.References))
	}
	for _, ref := range opts.References {
		if _, err := os.Stat(ref); err != nil {
			return fmt.Errorf("reference image %s: %w", ref, err)
		}
	}
	info, err := os.Stat(opts.CandidateDir)
	if err != nil {
		return fmt.Errorf("candidate folder: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("candidate path %s is not a folder", opts.CandidateDir)
	}
	if opts.Tolerance <= 0 || opts.Tolerance > 2.0 {
		return fmt.Errorf("tolerance must be between 0.0 and 2.0, got %f", opts.Tolerance)
	}
	if opts.FallbackLimit < 1 {
		return fmt.Errorf("fallback must be >= 1, got %d", opts.FallbackLimit)
	}
	return validateEngineFlags(&opts.EngineOptions)
}

func runRegister(ctx context.Context, name string, opts registerOptions) error {
	if err := validateRegisterFlags(&opts); err != nil {
		utils.ShowError("Invalid arguments", err, nil)
		return err
	}
	logger := newLogger()

	db, err := openStore(ctx)
	if err != nil {
		utils.ShowError("Identity store unavailable", err, nil)
		return err
	}

	pool, err := startEngines(opts.EngineOptions, 1, logger)
	if err != nil {
		utils.ShowError("Failed to start face engine", err, nil)
		return err
	}
	defer pool.Close()

	reg, err := registration.New(registration.Config{
		Name:           name,
		References:     opts.References,
		CandidateDir:   opts.CandidateDir,
		ReferenceDir:   opts.ReferenceDir,
		Tolerance:      opts.Tolerance,
		FallbackLimit:  opts.FallbackLimit,
		KeepCandidates: opts.Keep,
	}, pool, db, logger)
	if err != nil {
		utils.ShowError("Invalid registration", err, nil)
		return err
	}

	res, err := runJob(ctx, "register", "👤 Registering "+name, reg.Run)
	if errors.Is(err, types.ErrJobCancelled) {
		fmt.Fprintf(os.Stderr, "🛑 Registration cancelled after %d image(s).\n", res.Accepted)
		return nil
	}
	if err != nil {
		utils.ShowError("Registration failed", err, nil)
		return err
	}

	if res.Fallback {
		fmt.Fprintf(os.Stderr, "⚠️  No reference face found, accepted the first %d images unchecked.\n", opts.FallbackLimit)
	}
	fmt.Printf("✅ Registered %d image(s) as '%s' (%d rejected, %d without a face, %d errors)\n",
		res.Accepted, res.Name, res.Rejected, res.NoFace, res.Errors)
	if res.ReferencePath != "" {
		fmt.Printf("🖼️  Reference image saved to %s\n", res.ReferencePath)
	}
	return nil
}
