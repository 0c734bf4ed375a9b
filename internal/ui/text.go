package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

const prompt = "maestro> "

// TextAdapter is a line REPL over any reader/writer pair, normally
// stdin/stdout. The whole run shares one conversational session so
// context carry-over ("louder", "play it again") works across lines.
type TextAdapter struct {
	gateway Gateway
	in      io.Reader
	out     io.Writer

	mu        sync.Mutex
	sessionID string
	stopped   bool
	done      chan struct{}
}

func NewTextAdapter(gateway Gateway, in io.Reader, out io.Writer) *TextAdapter {
	return &TextAdapter{
		gateway: gateway,
		in:      in,
		out:     out,
		done:    make(chan struct{}),
	}
}

func (a *TextAdapter) Name() string { return "text" }

func (a *TextAdapter) Start(ctx context.Context) error {
	go a.loop(ctx)
	return nil
}

// Stop only marks the adapter stopped: a blocked read on a real terminal
// cannot be interrupted, so the loop checks the flag after each line and
// otherwise ends at EOF.
func (a *TextAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.stopped {
		a.stopped = true
		close(a.done)
	}
	return nil
}

// Done is closed once the adapter stops reading, either via Stop or EOF.
func (a *TextAdapter) Done() <-chan struct{} { return a.done }

func (a *TextAdapter) loop(ctx context.Context) {
	defer a.Stop()

	fmt.Fprintln(a.out, "maestro interactive shell. Ctrl-D exits.")
	scanner := bufio.NewScanner(a.in)

	for {
		fmt.Fprint(a.out, prompt)
		if !scanner.Scan() {
			return
		}
		if ctx.Err() != nil || a.isStopped() {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}

		response, sessionID, err := a.gateway.HandleCommand(ctx, line, a.currentSession(), "", "text")
		if err != nil {
			fmt.Fprintf(a.out, "error: %v\n", err)
			continue
		}
		a.setSession(sessionID)
		fmt.Fprintln(a.out, response)
	}
}

func (a *TextAdapter) currentSession() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

func (a *TextAdapter) setSession(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionID = id
}

func (a *TextAdapter) isStopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}
