package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/raphaelgruber/parley/internal/chat"
	"github.com/spf13/cobra"
)

var (
	askModel       string
	askSystem      string
	askImages      []string
	askTemperature float64
	askMaxTokens   int
	askStream      bool
	askOutputFile  string
)

var askCmd = &cobra.Command{
	Use:   "ask <prompt>",
	Short: "Send a single prompt and print the reply",
	Long: `Send one prompt to a model and print the reply.

Examples:
  parley ask "Explain goroutines in two sentences"
  parley ask -m anthropic:claude-sonnet-4-5 "Summarize this" --stream
  parley ask -m together:meta-llama/Llama-Vision-Free "What is in this photo?" -i photo.jpg
  parley ask -m local:/models/llama3.gguf "Write a haiku" -o haiku.txt`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askModel, "model", "m", "", "model identifier (default from config)")
	askCmd.Flags().StringVar(&askSystem, "system", "", "system prompt")
	askCmd.Flags().StringSliceVarP(&askImages, "image", "i", nil, "attach image files")
	askCmd.Flags().Float64VarP(&askTemperature, "temperature", "t", 0, "sampling temperature")
	askCmd.Flags().IntVarP(&askMaxTokens, "max-tokens", "n", 0, "max completion tokens")
	askCmd.Flags().BoolVar(&askStream, "stream", false, "print fragments as they arrive")
	askCmd.Flags().StringVarP(&askOutputFile, "output", "o", "", "write reply to file")
}

func runAsk(cmd *cobra.Command, args []string) error {
	sess, err := newSession(askModel, askSystem, askTemperature, askMaxTokens, askStream)
	if err != nil {
		return err
	}

	images, err := loadAttachments(askImages)
	if err != nil {
		return err
	}
	userMsg, err := chat.NewUserMessage(args[0], images...)
	if err != nil {
		return err
	}

	turn, err := sess.Send(cmd.Context(), userMsg)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	var reply string
	if askStream {
		for {
			frag, err := turn.Stream.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("stream: %w", err)
			}
			fmt.Print(frag)
		}
		fmt.Println()
		if final := turn.Stream.Message(); final != nil {
			reply = final.Text
		}
	} else {
		reply = turn.Message.Text
		fmt.Println(reply)
	}

	if askOutputFile != "" {
		if err := os.WriteFile(askOutputFile, []byte(reply+"\n"), 0644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
	return nil
}
