package cli

import (
	"fmt"

	"github.com/raphaelgruber/parley/internal/store"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Manage stored conversations",
	Long: `List, show, and delete conversations from the SurrealDB store.

Requires store_enabled: true in the config (or PARLEY_STORE_ENABLED=1).

Examples:
  parley history
  parley history show 0193e1a2-...
  parley history rm 0193e1a2-...`,
	RunE: runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Print a stored conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyRmCmd = &cobra.Command{
	Use:   "rm <conversation-id>",
	Short: "Delete a stored conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryRm,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "max conversations to list")
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyRmCmd)
}

func requireStore() error {
	if storeClient == nil {
		return fmt.Errorf("conversation store is not available (enable it with store_enabled: true)")
	}
	return nil
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	if err := requireStore(); err != nil {
		return err
	}

	records, err := storeClient.ListConversations(cmd.Context(), historyLimit)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No stored conversations.")
		return nil
	}

	for _, rec := range records {
		id, err := store.RecordIDString(rec.ID)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s  %s\n", id, rec.Updated.Format("2006-01-02 15:04"), rec.Title)
	}
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	if err := requireStore(); err != nil {
		return err
	}

	conv, err := storeClient.LoadConversation(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	fmt.Printf("%s (%d messages)\n\n", conv.Title, len(conv.Messages))
	for _, msg := range conv.Messages {
		fmt.Printf("[%s] %s\n", msg.Role, msg.Text)
		if len(msg.Images) > 0 {
			fmt.Printf("  (%d attachment(s))\n", len(msg.Images))
		}
		fmt.Println()
	}
	return nil
}

func runHistoryRm(cmd *cobra.Command, args []string) error {
	if err := requireStore(); err != nil {
		return err
	}

	if err := storeClient.DeleteConversation(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}
