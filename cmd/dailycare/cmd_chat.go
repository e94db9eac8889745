package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dailyux/eldercare-go/adapter/codec"
	"github.com/dailyux/eldercare-go/assistant"
	"github.com/dailyux/eldercare-go/eldercare"
	"github.com/dailyux/eldercare-go/grpcapi"
	"github.com/dailyux/eldercare-go/scheduler"
)

var remoteAddr string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant in the terminal",
	Long: `Starts an interactive session. Routing decisions and tool calls are shown as
they happen, followed by the answer. Use --remote to talk to a running server
over gRPC instead of an in-process assistant.

Commands:
  /actions          list quick actions
  /action <name>    run a quick action
  /history          show the conversation
  /tasks            show scheduled follow-ups
  /reset            start a new session
  /quit             exit`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&remoteAddr, "remote", "", "gRPC address of a running dailycare server")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	out := cmd.OutOrStdout()
	if remoteAddr != "" {
		client, err := grpcapi.Dial(remoteAddr)
		if err != nil {
			return err
		}
		defer client.Close()
		return remoteChat(ctx, client, cmd.InOrStdin(), out)
	}

	a, err := newApp(ctx, cfg, logger, appOptions{Console: out})
	if err != nil {
		return err
	}
	defer a.Close()
	if !a.assistant.Available() {
		return assistant.ErrUnavailable
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- a.assistant.Run(runCtx) }()

	r := &repl{svc: a.assistant, session: a.assistant.NewSession(), out: out}
	unsubscribe := r.followUps()
	err = r.run(ctx, cmd.InOrStdin())
	unsubscribe()
	cancel()
	<-runDone
	return err
}

// repl is the local terminal chat.
type repl struct {
	svc     *assistant.Service
	session string
	out     io.Writer
}

// followUps prints scheduled follow-up replies as they arrive.
func (r *repl) followUps() func() {
	ch, unsubscribe := r.svc.Subscribe(r.session)
	go func() {
		for msg := range ch {
			fmt.Fprintf(r.out, "\n[follow-up] %s\n> ", msg.Content)
		}
	}()
	return unsubscribe
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintf(r.out, "DailyCare assistant (session %s). Type /quit to exit.\n", r.session)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		quit, err := r.handle(ctx, line)
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		if quit || ctx.Err() != nil {
			return nil
		}
	}
}

func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		return false, r.turn(ctx, line)
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/actions":
		for _, action := range assistant.QuickActions() {
			fmt.Fprintf(r.out, "  %-18s %s\n", action.Name, action.Description)
		}
	case "/action":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: /action <name>")
		}
		result, err := r.svc.RunQuickAction(ctx, r.session, fields[1])
		if err != nil {
			return false, err
		}
		printReply(r.out, result.Reply)
		if result.FollowUp != nil {
			fmt.Fprintf(r.out, "(follow-up scheduled for %s)\n", result.FollowUp.ExecuteAt.Local().Format("15:04:05"))
		}
	case "/history":
		messages, err := r.svc.History(ctx, r.session)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, assistant.FormatHistory(messages))
	case "/tasks":
		for _, task := range r.svc.Tasks(r.session) {
			fmt.Fprintln(r.out, formatTask(task))
		}
	case "/reset":
		if err := r.svc.DeleteSession(ctx, r.session); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "Session cleared.")
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
	return false, nil
}

// formatTask renders a follow-up as one line with a countdown bar.
func formatTask(task scheduler.View) string {
	const width = 20
	filled := int(task.Fraction * width)
	bar := strings.Repeat("#", filled) + strings.Repeat("-", width-filled)
	remaining := time.Duration(task.RemainingSeconds * float64(time.Second)).Round(time.Second)
	return fmt.Sprintf("  %.8s  %-9s %s  [%s] %3.0f%%  %s left",
		task.ID, task.Status, task.ExecuteAt.Local().Format("15:04:05"), bar, task.Fraction*100, remaining)
}

func (r *repl) turn(ctx context.Context, text string) error {
	messages, errs := r.svc.ChatStream(ctx, r.session, text)
	for msg := range messages {
		printEvent(r.out, msg.MetadataString("event"), msg)
	}
	return <-errs
}

func printEvent(out io.Writer, event string, msg *eldercare.Message) {
	switch event {
	case "final", "":
		printReply(out, msg)
	case "routing":
		fmt.Fprintf(out, "  -> %s\n", msg.Content)
	default:
		if content := strings.TrimSpace(msg.Content); content != "" {
			fmt.Fprintf(out, "  [%s] %s\n", event, firstLine(content))
		}
	}
}

func printReply(out io.Writer, msg *eldercare.Message) {
	if msg == nil {
		return
	}
	if agent := msg.MetadataString("routed_to"); agent != "" {
		fmt.Fprintf(out, "Assistant (%s): %s\n", agent, msg.Content)
		return
	}
	fmt.Fprintf(out, "Assistant: %s\n", msg.Content)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

// remoteChat runs the terminal chat against a gRPC server.
func remoteChat(ctx context.Context, client *grpcapi.Client, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "DailyCare remote chat. Type /quit to exit.")
	var session string
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}
		err := client.ChatStream(ctx, &grpcapi.ChatRequest{SessionID: session, Content: line}, func(env *codec.Envelope) error {
			if env.Type != codec.TypeEvent {
				return nil
			}
			if id, ok := env.Payload["session_id"].(string); ok {
				session = id
			}
			data, _ := env.Payload["message"].(map[string]interface{})
			msg := eldercare.NewMessage(eldercare.RoleAssistant, fmt.Sprint(data["content"]))
			if meta, ok := data["metadata"].(map[string]interface{}); ok {
				msg.Metadata = meta
			}
			event, _ := env.Payload["event"].(string)
			printEvent(out, event, msg)
			return nil
		})
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
