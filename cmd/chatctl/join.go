package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/quiz-chat/internal/config"
	"github.com/DoyleJ11/quiz-chat/internal/health"
	"github.com/DoyleJ11/quiz-chat/internal/messages"
	"github.com/DoyleJ11/quiz-chat/internal/room"
	"github.com/DoyleJ11/quiz-chat/internal/transport"
)

const leaveTimeout = 2 * time.Second

func newJoinCmd(cfg *config.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a room and chat from stdin.",
		Long: `Plain lines are sent as messages. Commands:
  /help <question>  ask for help
  /retry            re-fetch history after a failure
  /leave            leave the room and exit
  /quit             exit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := newLogger(*cfg)
			if err != nil {
				return err
			}
			return runJoin(cmd.Context(), *cfg, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
		},
	}
	cmd.Flags().StringVar(&cfg.Room, "room", "", "room to join (env: CHAT_ROOM)")
	cmd.Flags().DurationVar(&cfg.TypingDebounce, "debounce", 0, "typing stop delay (env: CHAT_TYPING_DEBOUNCE)")
	return cmd
}

func runJoin(parent context.Context, cfg config.Client, in io.Reader, out io.Writer, logger *zap.Logger) error {
	if strings.TrimSpace(cfg.Token) == "" {
		return errors.New("a token is required; mint one with `chatctl token`")
	}
	wsURL, err := cfg.WebSocketURL()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sess := transport.NewSession(transport.Config{
		URL:        wsURL,
		Token:      cfg.Token,
		MinBackoff: cfg.ReconnectMin,
		MaxBackoff: cfg.ReconnectMax,
		Logger:     logger,
	})

	status := health.NewIndicator()
	status.OnChange(func(s health.Status) { fmt.Fprintf(out, "* %s\n", s) })
	stopStatus := status.Attach(sess)
	defer stopStatus()

	client := room.New(ctx, room.Config{
		Transport: sess,
		History: messages.NewHistoryClient(cfg.HTTPURL(),
			messages.WithToken(cfg.Token),
			messages.WithLogger(logger),
		),
		TypingDebounce: cfg.TypingDebounce,
		TypingTTL:      cfg.TypingTTL,
		Logger:         logger,
	})
	defer client.Close()

	if err := client.Enter(ctx, cfg.Room, cfg.Token); err != nil {
		return fmt.Errorf("enter %s: %w", cfg.Room, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sess.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		r := newRenderer(out)
		for v := range client.Views() {
			r.render(v)
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return readInput(gctx, client, scanLines(in), out)
	})
	return g.Wait()
}

// scanLines feeds lines from r until EOF. The goroutine may outlive the
// caller when r never returns.
func scanLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}

// chatClient is the part of room.Client the input loop drives.
type chatClient interface {
	Send(ctx context.Context, body string) error
	RequestHelp(ctx context.Context, question string) error
	RetryHistory(ctx context.Context) error
	Leave(ctx context.Context) error
	Keystroke()
}

func readInput(ctx context.Context, c chatClient, lines <-chan string, out io.Writer) error {
	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
			if !ok {
				return leave(c)
			}
		}

		cmd := parseLine(line)
		var err error
		switch cmd.kind {
		case lineEmpty:
			continue
		case lineQuit:
			return nil
		case lineLeave:
			return leave(c)
		case lineRetry:
			err = c.RetryHistory(ctx)
		case lineHelp:
			c.Keystroke()
			err = c.RequestHelp(ctx, cmd.text)
		case lineSend:
			c.Keystroke()
			err = c.Send(ctx, cmd.text)
		case lineUnknown:
			fmt.Fprintf(out, "! unknown command %q\n", cmd.text)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "! %v\n", err)
		}
	}
}

func leave(c chatClient) error {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	if err := c.Leave(ctx); err != nil && !errors.Is(err, room.ErrClosed) {
		return fmt.Errorf("leave: %w", err)
	}
	return nil
}

type lineKind int

const (
	lineEmpty lineKind = iota
	lineSend
	lineHelp
	lineRetry
	lineLeave
	lineQuit
	lineUnknown
)

type inputLine struct {
	kind lineKind
	text string
}

func parseLine(line string) inputLine {
	line = strings.TrimSpace(line)
	if line == "" {
		return inputLine{kind: lineEmpty}
	}
	if !strings.HasPrefix(line, "/") {
		return inputLine{kind: lineSend, text: line}
	}
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "/help":
		return inputLine{kind: lineHelp, text: rest}
	case "/retry":
		return inputLine{kind: lineRetry}
	case "/leave":
		return inputLine{kind: lineLeave}
	case "/quit", "/exit":
		return inputLine{kind: lineQuit}
	}
	return inputLine{kind: lineUnknown, text: name}
}
