package conversation

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Run drives the loop interactively off in, writing rendered events to out,
// until the user types /quit or /exit or in reaches EOF (Ctrl-D).
func (l *Loop) Run(ctx context.Context, in io.Reader, out io.Writer) error {
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

		err := l.ProcessMessage(ctx, line, func(ev Event) {
			renderEvent(out, ev)
		})
		if err != nil {
			if _, ok := err.(*CancelledByUser); ok {
				fmt.Fprintln(out, "(cancelled)")
				continue
			}
			return err
		}
	}
}

func renderEvent(out io.Writer, ev Event) {
	switch ev.Type {
	case EventText:
		fmt.Fprintln(out, ev.Text)
	case EventToolCall:
		fmt.Fprintf(out, "  -> %s %v\n", ev.Tool, ev.Input)
	case EventToolResult:
		fmt.Fprintf(out, "  <- %s %v\n", ev.Tool, ev.Result)
	case EventError:
		fmt.Fprintf(out, "error: %s\n", ev.Text)
	case EventInfo:
		fmt.Fprintf(out, "(%s)\n", ev.Text)
	}
}
