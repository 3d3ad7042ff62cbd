package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/andresmejia3/facegrid/internal/utils"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:   "label <old_name> <new_name>",
	Short: "Rename a registered identity",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		newName := strings.TrimSpace(args[1])
		if newName == "" {
			utils.Die("Invalid name", fmt.Errorf("the new name must not be empty"), nil)
		}
		runLabel(cmd.Context(), args[0], newName)
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}

func runLabel(ctx context.Context, oldName, newName string) {
	db, err := openStore(ctx)
	if err != nil {
		utils.Die("Identity store unavailable", err, nil)
	}

	n, err := db.RenameIdentity(ctx, oldName, newName)
	if err != nil {
		utils.Die("Failed to label identity", err, nil)
	}

	fmt.Printf("✅ '%s' relabeled as '%s' (%d embeddings)\n", oldName, newName, n)
}
