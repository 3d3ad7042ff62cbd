package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/facegrid/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB         bool
	resetReferences bool
	resetOutputs    bool
	resetYes        bool

	referenceDir string
	outputDirs   []string
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Identity store, Reference images, Outputs)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetReferences && !resetOutputs {
			resetDB = true
			resetReferences = true
			resetOutputs = true
		}

		reader := bufio.NewReader(os.Stdin)
		ask := func(prompt string) bool { return resetYes || confirm(reader, prompt) }

		if resetDB {
			if ask("⚠️  Are you sure you want to DROP all registered identities?") {
				db, err := openStore(cmd.Context())
				if err != nil {
					utils.Die("Identity store unavailable", err, nil)
				}
				fmt.Println("🗑️  Clearing Identity Store...")
				if err := db.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetReferences {
			if ask(fmt.Sprintf("⚠️  Are you sure you want to delete all reference images in %s?", referenceDir)) {
				fmt.Println("🗑️  Clearing Reference Images...")
				removeDir(referenceDir)
			}
		}

		if resetOutputs && len(outputDirs) > 0 {
			if ask(fmt.Sprintf("⚠️  Are you sure you want to delete %s?", strings.Join(outputDirs, ", "))) {
				fmt.Println("🗑️  Clearing Output Files (Face crops, Frames)...")
				for _, d := range outputDirs {
					removeDir(d)
				}
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "identities", false, "Clear the identity store")
	resetCmd.Flags().BoolVar(&resetReferences, "references", false, "Clear saved reference images")
	resetCmd.Flags().BoolVar(&resetOutputs, "outputs", false, "Clear extracted faces and frame outputs")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	resetCmd.Flags().StringVar(&referenceDir, "reference-dir", "reference_images", "Reference image folder")
	resetCmd.Flags().StringSliceVar(&outputDirs, "output-dir", []string{"faces", "output"}, "Output folders to clear")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
