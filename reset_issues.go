package siseon

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var ResetIssuesCmd = &cobra.Command{
	Use:   "reset-issues",
	Short: "Delete all issues and detach their articles",
	Run: func(cmd *cobra.Command, args []string) {
		store, err := openStore(currentSettings())
		if err != nil {
			log.Printf("Failed to reset issues: %v", err)
			return
		}
		defer closeStore(store)

		n, err := store.ResetIssues(cmd.Context())
		if err != nil {
			log.Printf("Failed to reset issues: %v", err)
			return
		}
		log.Printf("🧽 Deleted %d issues", n)
	},
}
