package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mdjira/internal/app"
	"mdjira/internal/config"
	"mdjira/internal/domain"
	"mdjira/internal/logging"
)

var version = "dev"

const usage = `usage: md-jira-ingest [-config file] <command> [flags]

commands:
  run        -date YYYY-MM-DD   run one partition (default: newest)
  backfill   -from D -to D      run partitions from..to in order
  preview    -date D -rows N    transform and validate without writing
  partitions -limit N           list partitions with their last run
  serve                         HTTP API, schedule and replay watcher
  mcp                           MCP server on stdin/stdout
`

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults when empty)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*configPath, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath, command string, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Service.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger = logger.With(zap.String("service", cfg.Service.Name), zap.String("version", version))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), cfg.RunTimeout())
		defer done()
		a.Shutdown(shutdownCtx)
	}()

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	switch command {
	case "run":
		date := fs.String("date", "", "Partition key YYYY-MM-DD (default: newest)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *date == "" {
			*date = a.Ingest.LastPartition()
		}
		res, err := a.Ingest.RunPartition(ctx, *date, domain.RunTriggerManual)
		if res != nil {
			printJSON(res)
		}
		return err

	case "backfill":
		from := fs.String("from", "", "First partition key YYYY-MM-DD")
		to := fs.String("to", "", "Last partition key YYYY-MM-DD (default: newest)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *from == "" {
			return fmt.Errorf("backfill: -from is required")
		}
		if *to == "" {
			*to = a.Ingest.LastPartition()
		}
		results, err := a.Ingest.Backfill(ctx, *from, *to)
		printJSON(results)
		return err

	case "preview":
		date := fs.String("date", "", "Partition key YYYY-MM-DD (default: newest)")
		rows := fs.Int("rows", 10, "Maximum accepted records to print")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *date == "" {
			*date = a.Ingest.LastPartition()
		}
		preview, err := a.Ingest.Preview(ctx, *date, *rows)
		if err != nil {
			return err
		}
		printJSON(preview)
		return nil

	case "partitions":
		limit := fs.Int("limit", 30, "Maximum partitions to list")
		if err := fs.Parse(args); err != nil {
			return err
		}
		parts, err := a.Ingest.ListPartitions()
		if err != nil {
			return err
		}
		if *limit > 0 && len(parts) > *limit {
			parts = parts[:*limit]
		}
		printJSON(parts)
		return nil

	case "serve":
		start := time.Now()
		err := a.Serve(ctx)
		logger.Info("service stopped", zap.Duration("uptime", time.Since(start)))
		return err

	case "mcp":
		return a.ServeMCP(ctx, version)

	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
