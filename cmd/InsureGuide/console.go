package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/BTreeMap/InsureGuide/internal/flow"
)

// chatEngine is the part of the engine the console drives.
type chatEngine interface {
	Start(ctx context.Context) (flow.Turn, error)
	Resume(ctx context.Context, sessionID, reply string) (flow.Turn, error)
}

// runConsole holds one conversation over in and out until the session ends,
// the input closes, the user types /quit, or ctx is cancelled.
func runConsole(ctx context.Context, eng chatEngine, in io.Reader, out io.Writer) error {
	turn, err := eng.Start(ctx)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	printTurn(out, turn)

	lines := bufio.NewScanner(in)
	for !turn.Done {
		fmt.Fprint(out, "> ")
		if !lines.Scan() {
			fmt.Fprintln(out)
			return lines.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		text := strings.TrimSpace(lines.Text())
		switch text {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		next, err := eng.Resume(ctx, turn.SessionID, text)
		switch {
		case errors.Is(err, flow.ErrSessionClosed):
			return nil
		case err != nil:
			return fmt.Errorf("resume session %s: %w", turn.SessionID, err)
		}
		turn = next
		printTurn(out, turn)
	}
	return nil
}

func printTurn(out io.Writer, t flow.Turn) {
	for _, m := range t.Messages {
		fmt.Fprintf(out, "%s\n\n", m)
	}
	if t.Prompt != "" {
		fmt.Fprintf(out, "%s\n", t.Prompt)
	}
}
