package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/DoyleJ11/quiz-chat/internal/room"
	"github.com/DoyleJ11/quiz-chat/pkg/types"
)

// renderer prints only what changed between successive views.
type renderer struct {
	out io.Writer

	phase   string
	online  string
	typing  string
	notice  string
	histErr string
	seen    map[string]bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, seen: make(map[string]bool)}
}

func (r *renderer) render(v room.View) {
	if phase := string(v.Phase); phase != r.phase {
		r.phase = phase
		if v.RoomID != "" {
			fmt.Fprintf(r.out, "* %s %s\n", phase, v.RoomID)
		} else {
			fmt.Fprintf(r.out, "* %s\n", phase)
		}
	}

	if v.HistoryErr != nil {
		if s := v.HistoryErr.Error(); s != r.histErr {
			r.histErr = s
			fmt.Fprintf(r.out, "! %s (type /retry)\n", s)
		}
	} else {
		r.histErr = ""
	}

	if len(v.Messages) == 0 {
		clear(r.seen)
	}
	for _, m := range v.Messages {
		if r.seen[m.ID] {
			continue
		}
		r.seen[m.ID] = true
		fmt.Fprintln(r.out, formatMessage(m))
	}

	names := make([]string, 0, len(v.Online))
	for _, p := range v.Online {
		names = append(names, p.DisplayName)
	}
	if online := strings.Join(names, ", "); online != r.online && v.Joined {
		r.online = online
		fmt.Fprintf(r.out, "* online (%d): %s\n", len(names), online)
	}

	typing := typingLine(v.Typing)
	if typing != r.typing {
		r.typing = typing
		if typing != "" {
			fmt.Fprintf(r.out, "* %s\n", typing)
		}
	}

	notice := ""
	if v.Notice != nil {
		notice = v.Notice.Error()
	}
	if notice != r.notice {
		r.notice = notice
		if notice != "" {
			fmt.Fprintf(r.out, "! %s\n", notice)
		}
	}
}

func formatMessage(m types.Message) string {
	ts := m.CreatedAt.Local().Format("15:04")
	if m.Kind == types.KindHelp {
		return fmt.Sprintf("[%s] %s asks for help: %s", ts, m.AuthorName, m.Body)
	}
	return fmt.Sprintf("[%s] %s: %s", ts, m.AuthorName, m.Body)
}

func typingLine(names []string) string {
	names = slices.Clone(names)
	slices.Sort(names)
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing..."
	case 2:
		return names[0] + " and " + names[1] + " are typing..."
	}
	return fmt.Sprintf("%s and %d others are typing...", names[0], len(names)-1)
}
