package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeEngine is a scripted UCI process on the far side of two pipes.
type fakeEngine struct {
	out *io.PipeWriter

	mu       sync.Mutex
	commands []string
	// onGo answers a go command; nil answers nothing, leaving the search
	// running until stop.
	onGo   func(e *fakeEngine, cmd string)
	onStop func(e *fakeEngine)
}

func startFakeEngine(t *testing.T, onGo func(e *fakeEngine, cmd string)) (*fakeEngine, *Session) {
	t.Helper()

	cmdR, cmdW := io.Pipe()
	outR, outW := io.Pipe()
	fe := &fakeEngine{out: outW, onGo: onGo}
	fe.onStop = func(e *fakeEngine) { e.reply("bestmove e2e4") }

	go fe.serve(cmdR)

	s := NewSession(outR, cmdW, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Handshake(ctx))

	t.Cleanup(func() {
		_ = cmdW.Close()
		_ = outW.Close()
	})
	return fe, s
}

func (e *fakeEngine) serve(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		cmd := sc.Text()
		e.mu.Lock()
		e.commands = append(e.commands, cmd)
		onGo, onStop := e.onGo, e.onStop
		e.mu.Unlock()

		switch {
		case cmd == "uci":
			e.reply("id name fake", "uciok")
		case cmd == "isready":
			e.reply("readyok")
		case cmd == "quit":
			_ = e.out.Close()
			return
		case cmd == "stop":
			if onStop != nil {
				onStop(e)
			}
		case strings.HasPrefix(cmd, "go"):
			if onGo != nil {
				onGo(e, cmd)
			}
		}
	}
}

func (e *fakeEngine) reply(lines ...string) {
	for _, l := range lines {
		_, _ = fmt.Fprintln(e.out, l)
	}
}

func (e *fakeEngine) count(prefix string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.commands {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (e *fakeEngine) crash() {
	_ = e.out.CloseWithError(io.ErrUnexpectedEOF)
}

// answerWith replies to every go with a fixed script.
func answerWith(lines ...string) func(e *fakeEngine, cmd string) {
	return func(e *fakeEngine, cmd string) { e.reply(lines...) }
}
