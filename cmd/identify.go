package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facegrid/internal/catalog"
	"github.com/andresmejia3/facegrid/internal/matcher"
	"github.com/andresmejia3/facegrid/internal/types"
	"github.com/andresmejia3/facegrid/internal/utils"
	"github.com/spf13/cobra"
)

type identifyOptions struct {
	EngineOptions

	Tolerance float64
	All       bool
}

var identifyOpts identifyOptions

var identifyCmd = &cobra.Command{
	Use:   "identify <image_path>",
	Short: "Match the faces in one image against the identity store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runIdentify(cmd.Context(), args[0], identifyOpts)
	},
}

func init() {
	addEngineFlags(identifyCmd.Flags(), &identifyOpts.EngineOptions, 1)
	identifyCmd.Flags().Float64VarP(&identifyOpts.Tolerance, "tolerance", "t", matcher.DefaultTolerance, "Face matching tolerance (lower is stricter)")
	identifyCmd.Flags().BoolVarP(&identifyOpts.All, "all", "a", false, "Report every face instead of the largest one")
	rootCmd.AddCommand(identifyCmd)
}

func runIdentify(ctx context.Context, imagePath string, opts identifyOptions) error {
	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	}
	if err := validateEngineFlags(&opts.EngineOptions); err != nil {
		utils.ShowError("Invalid arguments", err, nil)
		return err
	}

	db, err := openStore(ctx)
	if err != nil {
		utils.ShowError("Identity store unavailable", err, nil)
		return err
	}
	cat, err := catalog.Load(ctx, db)
	if err != nil {
		utils.ShowError("Failed to load identities", err, nil)
		return err
	}
	if cat.Len() == 0 {
		fmt.Println("❌ The identity store is empty. Register someone first.")
		return nil
	}

	pool, err := startEngines(opts.EngineOptions, 1, newLogger())
	if err != nil {
		utils.ShowError("Failed to start face engine", err, nil)
		return err
	}
	defer pool.Close()

	imgData, err := os.ReadFile(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	faces, err := pool.DetectAndEncode(ctx, imgData)
	if err != nil {
		utils.ShowError("Face engine failed", err, nil)
		return err
	}

	if len(faces) == 0 {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}

	if !opts.All {
		if len(faces) > 1 {
			fmt.Printf("⚠️  Multiple faces detected (%d). Using the largest face.\n", len(faces))
		}
		r := matcher.MatchDetection(largestFace(faces), cat, opts.Tolerance)
		if !r.Matched() {
			fmt.Println("❌ No match found in database.")
			return nil
		}
		fmt.Printf("✅ Found Match: %s (%d matching embeddings)\n", r.Identity.Name(), r.Votes)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FACE\tBOX (T,R,B,L)\tIDENTITY\tVOTES")
	fmt.Fprintln(w, "----\t-------------\t--------\t-----")
	for i, f := range faces {
		r := matcher.MatchDetection(f, cat, opts.Tolerance)
		b := f.Box
		fmt.Fprintf(w, "%d\t%d,%d,%d,%d\t%s\t%d\n", i+1, b.Top, b.Right, b.Bottom, b.Left, r.Identity.Name(), r.Votes)
	}
	w.Flush()
	return nil
}

// largestFace picks the detection with the biggest box; the first one wins ties.
func largestFace(faces []types.Detection) types.Detection {
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Box.Area() > best.Box.Area() {
			best = f
		}
	}
	return best
}
