package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kiara-intelligence/kiara/chat"
	"github.com/kiara-intelligence/kiara/personality"
	"github.com/kiara-intelligence/kiara/runtime"
	"github.com/spf13/cobra"
)

// pendingDrainTimeout bounds the replay of queued memory writes on exit.
const pendingDrainTimeout = 10 * time.Second

func init() {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Long: "Read messages from stdin and stream replies. Commands: /image <url> <text> attaches an image, " +
			"/reset clears the conversation history sent to the model, /quit exits.",
		RunE: runChat,
	}

	cmd.Flags().StringP("user", "u", "", "User ID (required)")
	cmd.Flags().StringP("chat", "c", "", "Chat ID (default: a new chat)")
	cmd.Flags().StringP("model", "m", string(personality.VariantDominator), "Model variant: dominator or vision")
	_ = cmd.MarkFlagRequired("user")

	rootCmd.AddCommand(cmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetString("user")
	chatID, _ := cmd.Flags().GetString("chat")
	model, _ := cmd.Flags().GetString("model")

	variant, err := personality.ParseVariant(model)
	if err != nil {
		return err
	}
	if chatID == "" {
		chatID = uuid.NewString()
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck // No remedy for db close errors

	// Replays failed memory writes while chatting and once more before the
	// database closes.
	scheduler, err := runtime.NewScheduler(a.memories, "", a.cfg.Memory.PendingFlushSchedule, a.logger)
	if err != nil {
		return err
	}
	shutdown := scheduler.Run(context.Background())
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), pendingDrainTimeout)
		defer cancel()
		shutdown(drainCtx)
		if pending := a.memories.Pending(); pending != nil && pending.Len() > 0 {
			a.logger.Warn().Int("remaining", pending.Len()).Msg("Exiting with unsaved memory writes")
		}
	}()

	service, err := a.chatService()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Chat %s with Kiara %s. Type /quit to exit.\n", chatID, variant)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		req := chat.SendRequest{UserID: userID, ChatID: chatID, Variant: variant, Content: line}
		switch {
		case line == "/quit":
			return nil
		case line == "/reset":
			service.ResetConversation(chatID)
			fmt.Fprintln(out, "Conversation history cleared.")
			continue
		case strings.HasPrefix(line, "/image "):
			fields := strings.SplitN(strings.TrimPrefix(line, "/image "), " ", 2)
			req.ImageURL = fields[0]
			req.Content = ""
			if len(fields) == 2 {
				req.Content = fields[1]
			}
		}

		printed := 0
		_, err := service.SendMessage(ctx, req, func(text string) {
			fmt.Fprint(out, text[printed:])
			printed = len(text)
		})
		fmt.Fprintln(out)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
		}
	}
	return scanner.Err()
}
