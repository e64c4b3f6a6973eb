package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/park285/cheese-analysis/internal/analysis"
	"github.com/park285/cheese-analysis/internal/ctlclient"
	"github.com/park285/cheese-analysis/internal/gateway"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "enginectl",
		Usage: "control a running analysisd",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Usage:   "Base URL of the analysis daemon.",
				Value:   "http://127.0.0.1:8765",
				EnvVars: []string{"ANALYSISD_URL"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Per-request timeout.",
				Value: 10 * time.Second,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "start",
				Usage: "start the engine (no-op when already running)",
				Action: func(c *cli.Context) error {
					return printResult(client(c).Start(c.Context))
				},
			},
			{
				Name:  "stop",
				Usage: "stop the engine (no-op when already stopped)",
				Action: func(c *cli.Context) error {
					return printResult(client(c).Stop(c.Context))
				},
			},
			{
				Name:      "analyze",
				Usage:     "search a position",
				ArgsUsage: "<fen|startpos>",
				Action: func(c *cli.Context) error {
					position, err := positionArg(c)
					if err != nil {
						return err
					}
					return printResult(client(c).Analyze(c.Context, position))
				},
			},
			{
				Name:      "ponder",
				Usage:     "search a position in ponder mode",
				ArgsUsage: "<fen|startpos>",
				Action: func(c *cli.Context) error {
					position, err := positionArg(c)
					if err != nil {
						return err
					}
					return printResult(client(c).Ponder(c.Context, position))
				},
			},
			{
				Name:  "watch",
				Usage: "print engine output until interrupted",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print raw frames as JSON lines."},
					&cli.IntFlag{Name: "reconnect", Usage: "Reconnect attempts after a drop.", Value: 5},
				},
				Action: watch,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		if ctlclient.IsNoActiveSession(err) {
			log.Fatal("no engine running; use 'enginectl start' first")
		}
		log.Fatal(err)
	}
}

func client(c *cli.Context) *ctlclient.Client {
	return ctlclient.NewClient(c.String("url"), ctlclient.WithTimeout(c.Duration("timeout")))
}

func positionArg(c *cli.Context) (string, error) {
	position := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if position == "" {
		return "", fmt.Errorf("%s: position required", c.Command.Name)
	}
	return position, nil
}

func printResult(res analysis.Result, err error) error {
	if err != nil {
		return err
	}
	if res.SessionID != "" {
		fmt.Printf("%s (session %s)\n", res.Status, res.SessionID)
	} else {
		fmt.Println(res.Status)
	}
	return nil
}

func watch(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	asJSON := c.Bool("json")
	w := ctlclient.NewWatcher(client(c).EventsURL(), c.Int("reconnect"), nil)
	w.OnFrame(func(f gateway.Frame) {
		if asJSON {
			b, err := json.Marshal(f)
			if err == nil {
				fmt.Println(string(b))
			}
			return
		}
		fmt.Println(formatFrame(f))
	})
	failed := make(chan struct{}, 1)
	w.OnStateChange(func(s ctlclient.WatcherState) {
		fmt.Fprintf(os.Stderr, "stream %s\n", s)
		if s == ctlclient.WatchFailed {
			select {
			case failed <- struct{}{}:
			default:
			}
		}
	})
	if err := w.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to event stream: %w", err)
	}

	var err error
	select {
	case <-ctx.Done():
	case <-failed:
		err = fmt.Errorf("event stream lost")
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = w.Close(closeCtx)
	return err
}

func formatFrame(f gateway.Frame) string {
	a := f.Annotation
	if a == nil {
		return f.UCIMessage
	}
	var parts []string
	if a.WhiteCP != nil {
		parts = append(parts, fmt.Sprintf("eval %+.2f", float64(*a.WhiteCP)/100))
	}
	if a.WhiteMate != nil {
		parts = append(parts, fmt.Sprintf("mate %+d", *a.WhiteMate))
	}
	if f.Depth != nil {
		parts = append(parts, fmt.Sprintf("depth %d", *f.Depth))
	}
	if a.BestMoveSAN != "" {
		parts = append(parts, "best "+a.BestMoveSAN)
	}
	if len(a.PVSAN) > 0 {
		parts = append(parts, "pv "+strings.Join(a.PVSAN, " "))
	}
	if len(parts) == 0 {
		return f.UCIMessage
	}
	return strings.Join(parts, "  ")
}
