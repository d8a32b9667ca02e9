package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/raphaelgruber/parley/internal/chat"
	"github.com/raphaelgruber/parley/internal/session"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	chatModelFlag   string
	chatSystem      string
	chatImages      []string
	chatTemperature float64
	chatMaxTokens   int
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation with a model. Replies stream in as
they are generated. On a terminal this runs a full-screen UI; when stdin is
piped it falls back to a plain line-based loop.

Examples:
  parley chat
  parley chat -m ollama:llama3.1
  parley chat -m together:meta-llama/Llama-Vision-Free -i photo.jpg
  parley chat -m local:/models/llama3.gguf --system "You are a pirate"`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatModelFlag, "model", "m", "", "model identifier (default from config)")
	chatCmd.Flags().StringVar(&chatSystem, "system", "", "system prompt")
	chatCmd.Flags().StringSliceVarP(&chatImages, "image", "i", nil, "attach image files to the next message")
	chatCmd.Flags().Float64VarP(&chatTemperature, "temperature", "t", 0, "sampling temperature")
	chatCmd.Flags().IntVarP(&chatMaxTokens, "max-tokens", "n", 0, "max completion tokens")
}

func runChat(cmd *cobra.Command, args []string) error {
	sess, err := newSession(chatModelFlag, chatSystem, chatTemperature, chatMaxTokens, true)
	if err != nil {
		return err
	}
	pending, err := loadAttachments(chatImages)
	if err != nil {
		return err
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		return runChatUI(cmd.Context(), sess, pending)
	}
	return runChatPlain(cmd.Context(), sess, pending, os.Stdin, os.Stdout)
}

// runChatPlain is the non-TTY loop: read a line, stream the reply, repeat.
// pending attachments (from --image or /image) go out with the next message.
func runChatPlain(ctx context.Context, sess *session.Session, pending []chat.Attachment, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "Chatting with %s. Type /quit to exit, /image <path> to attach a file.\n", sess.Model())

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}
		if path, ok := strings.CutPrefix(line, "/image "); ok {
			loaded, err := loadAttachments([]string{strings.TrimSpace(path)})
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			pending = append(pending, loaded...)
			fmt.Fprintf(out, "attached %s\n", strings.TrimSpace(path))
			continue
		}

		userMsg, err := chat.NewUserMessage(line, pending...)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		pending = nil
		turn, err := sess.Send(ctx, userMsg)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}

		for {
			frag, err := turn.Stream.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				fmt.Fprintf(out, "\nerror: %v\n", err)
				break
			}
			fmt.Fprint(out, frag)
		}
		fmt.Fprintln(out)
	}
}
