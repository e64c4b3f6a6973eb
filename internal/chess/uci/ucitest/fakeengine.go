// Package ucitest provides a scripted stand-in for a UCI engine binary.
package ucitest

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// script answers the handful of commands the supervisor sends and appends
// every received line to the file named by its first argument. It tracks the
// position so "d" prints a Fen line, and a ponder search only reports its
// bestmove on stop, the way a real engine does. The line "exit" makes it
// quit, simulating an engine crash.
const script = `#!/bin/sh
log="$1"
start="rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
fen="$start"
pending=""
while IFS= read -r line; do
  printf '%s\n' "$line" >> "$log"
  case "$line" in
    uci) echo "id name FakeFish"; echo "uciok" ;;
    isready) echo "readyok" ;;
    "position startpos") fen="$start" ;;
    "position fen "*) fen="${line#position fen }" ;;
    d) echo "Fen: $fen"; echo "Checkers:" ;;
    stop)
      if [ -n "$pending" ]; then echo "bestmove $pending"; pending=""; fi ;;
    go*)
      if [ "$fen" = "$start" ]; then
        pv="e2e4 e7e5"; best="e2e4 ponder e7e5"
      else
        pv="e7e5 g1f3"; best="e7e5 ponder g1f3"
      fi
      echo "info depth 12 score cp 34 pv $pv"
      case "$line" in
        *ponder) pending="$best" ;;
        *) echo "bestmove $best" ;;
      esac ;;
    exit) exit 0 ;;
  esac
done
`

type Engine struct {
	Path string
	Log  string
}

// New writes the fake engine into a temp dir. Pass Log as the engine's only
// argument.
func New(t testing.TB) Engine {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engine needs /bin/sh")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fakefish")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return Engine{Path: path, Log: filepath.Join(dir, "stdin.log")}
}

func (e Engine) Args() []string { return []string{e.Log} }

// Received returns the lines the engine has read so far.
func (e Engine) Received(t testing.TB) []string {
	t.Helper()
	raw, err := os.ReadFile(e.Log)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	text := strings.TrimRight(string(raw), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// WaitReceived blocks until at least n lines have been read by the engine.
func (e Engine) WaitReceived(t testing.TB, n int) []string {
	t.Helper()
	var lines []string
	require.Eventually(t, func() bool {
		lines = e.Received(t)
		return len(lines) >= n
	}, 5*time.Second, 10*time.Millisecond, "engine did not receive %d lines", n)
	return lines
}
