package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gwi.com/venture-assistant/internal/chat"
)

var resumeFlag string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start or resume a conversation",
	Long: `Start an interactive conversation. Every turn is saved on the server.

Commands inside the chat:
  /new           start a new chat
  /list          list saved chats by recency
  /open <n|id>   open a chat from the list
  /delete <n|id> delete a chat
  /quit          leave`,
	RunE: runChat,
}

func init() {
	addKindFlag(chatCmd)
	chatCmd.Flags().StringVar(&resumeFlag, "resume", "", "Id of a saved chat to open")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	kind, err := selectedKind()
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	r := newREPL(cmd.OutOrStdout())
	coord, err := a.coordinator(kind, r)
	if err != nil {
		return err
	}
	r.coord = coord

	ctx := cmd.Context()
	if resumeFlag != "" {
		if err := coord.Refresh(ctx); err != nil {
			return fmt.Errorf("failed to list chats: %s", describe(err))
		}
		if err := coord.Select(ctx, resumeFlag); err != nil {
			return fmt.Errorf("failed to open chat %s: %s", resumeFlag, describe(err))
		}
	}
	return r.run(ctx, os.Stdin)
}

// repl is the interactive chat loop. It is also the coordinator's view.
type repl struct {
	coord *chat.Coordinator
	out   io.Writer
	now   func() time.Time

	listed []string
	shown  string
}

func newREPL(out io.Writer) *repl {
	return &repl{out: out, now: time.Now}
}

func (r *repl) ReturnToNeutral() {
	fmt.Fprintln(r.out, "This chat no longer exists. Starting a new one.")
	r.shown = ""
	r.printConversation()
}

func (r *repl) Warn(err error) {
	fmt.Fprintln(r.out, "warning:", describe(err))
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	r.printConversation()

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(r.out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(r.out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "/"):
			quit, err := r.command(ctx, line)
			if err != nil {
				fmt.Fprintln(r.out, "error:", describe(err))
			}
			if quit {
				return nil
			}
		default:
			r.submit(ctx, line)
		}
	}
}

func (r *repl) command(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.out, "/new, /list, /open <n|id>, /delete <n|id>, /quit")
	case "/new":
		r.coord.NewChat()
		r.shown = ""
		r.printConversation()
	case "/list":
		if err := r.coord.Refresh(ctx); err != nil {
			return false, err
		}
		r.listed = printGroups(r.out, r.coord.Projector().Groups(r.now()), r.coord.Projector().Active())
	case "/open":
		id, err := r.resolve(arg)
		if err != nil {
			return false, err
		}
		if !r.coord.Projector().Loaded() {
			if err := r.coord.Refresh(ctx); err != nil {
				return false, err
			}
		}
		if err := r.coord.Select(ctx, id); err != nil {
			return false, err
		}
		r.shown = ""
		r.printConversation()
	case "/delete":
		id, err := r.resolve(arg)
		if err != nil {
			return false, err
		}
		if err := r.coord.Delete(ctx, id); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "Deleted.")
	default:
		return false, fmt.Errorf("unknown command %s, try /help", name)
	}
	return false, nil
}

// resolve turns a list number from the last /list into an id. Anything
// else is taken as an id.
func (r *repl) resolve(arg string) (string, error) {
	if arg == "" {
		return "", errors.New("which chat? give a number from /list or an id")
	}
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(r.listed) {
			return "", fmt.Errorf("no chat numbered %d, run /list", n)
		}
		return r.listed[n-1], nil
	}
	return arg, nil
}

func (r *repl) submit(ctx context.Context, text string) {
	res, err := r.coord.Submit(ctx, text)
	switch {
	case errors.Is(err, chat.ErrComplete):
		fmt.Fprintln(r.out, "This chat is complete. Use /new to start another one.")
		return
	case errors.Is(err, chat.ErrStale):
		return
	case err != nil:
		fmt.Fprintln(r.out, "error:", describe(err))
		return
	}
	fmt.Fprintf(r.out, "assistant: %s\n", res.Reply.Content)
	r.printResults()
}

func (r *repl) printConversation() {
	snap := r.coord.Controller().Snapshot()
	for _, m := range snap.Messages {
		fmt.Fprintf(r.out, "%s: %s\n", speaker(m.Role), m.Content)
	}
	r.printResults()
}

// printResults shows matches or projections once per change.
func (r *repl) printResults() {
	md := r.coord.Controller().Snapshot().Metadata
	key := string(md[chat.KeyMatchedInvestors]) + string(md[chat.KeyNoMatchesFound]) + string(md[chat.KeyProjections])
	if key == r.shown {
		return
	}
	r.shown = key
	printMetadata(r.out, md)
}

func speaker(role chat.Role) string {
	if role == chat.RoleUser {
		return "you"
	}
	return "assistant"
}

func describe(err error) string {
	switch {
	case errors.Is(err, chat.ErrUnauthorized):
		return "not logged in or the login expired, run `assistant login` (" + err.Error() + ")"
	case errors.Is(err, chat.ErrNotFound):
		return "chat not found"
	case errors.Is(err, chat.ErrBusy):
		return "still waiting for the previous reply"
	default:
		return err.Error()
	}
}
