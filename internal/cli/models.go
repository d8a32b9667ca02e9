package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List registered model namespaces",
	Long: `List the model namespaces this build can route to, in match order.

A model identifier is resolved by its longest matching namespace prefix;
identifiers without a known prefix are sent to the OpenAI backend verbatim.`,
	RunE: runModels,
}

func runModels(cmd *cobra.Command, args []string) error {
	fmt.Printf("Default model: %s\n\n", cfg.DefaultModel)
	fmt.Println("Namespaces:")
	for _, ns := range registry.Namespaces() {
		fmt.Printf("  %s:\n", ns)
	}
	return nil
}
