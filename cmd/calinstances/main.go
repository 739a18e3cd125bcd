package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sonroyaalmerol/calinstances/internal/config"
	"github.com/sonroyaalmerol/calinstances/internal/logging"
)

const usage = `usage: calinstances <command> [flags]

commands:
  calendar   -name <name> [-display <name>] [-color <hex>]
  import     -calendar <id> <file.ics>
  instances  -from <time> -to <time> [-tz <zone>] [-by-day]
  serve      run scheduled instance maintenance until interrupted`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("init failed")
		return 1
	}
	defer a.close()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "calendar":
		err = a.createCalendar(ctx, rest)
	case "import":
		err = a.importICS(ctx, rest)
	case "instances":
		err = a.listInstances(ctx, rest, os.Stdout)
	case "serve":
		err = a.serve(ctx)
	default:
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
	if err != nil {
		logger.Error().Err(err).Str("command", cmd).Msg("command failed")
		return 1
	}
	return 0
}
