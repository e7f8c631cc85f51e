package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/yungbote/docingest-backend/internal/app"
	types "github.com/yungbote/docingest-backend/internal/domain/content"
	"github.com/yungbote/docingest-backend/internal/ingestion/pipeline"
	"github.com/yungbote/docingest-backend/internal/observability"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

const usage = `usage: ingest <command> [flags]

commands:
  sync            list the source and store new or changed files
  process         extract text for synced files
  index           upload extracted text to the index
  full            sync, process and index in order
  stats           print record counts per status
  reset-stale     return files stuck in processing or indexing to their failure state
  purge           delete all ingestion state, stored content and indexed points
  search <query>  query the index (repeat the query argument to merge several)
  serve           run the read API
  worker          run scheduled ingest cycles
  extract-worker  serve extraction tasks over stdin/stdout (started by the process pool)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	// Missing .env is normal outside local development.
	_ = godotenv.Load()

	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		fmt.Fprint(os.Stdout, usage)
		return
	}

	cfg := app.LoadConfig()
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, cfg, cmd, args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Error("Command failed", "command", cmd, "error", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, cfg app.Config, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	maxFiles := fs.Int("max-files", cfg.MaxFiles, "stop after this many files per stage (0 = unlimited)")
	dryRun := fs.Bool("dry-run", cfg.DryRun, "report what would happen without changing anything")
	retryFailed := fs.Bool("retry-failed", cfg.RetryFailed, "also pick up files that failed an earlier run")
	workers := fs.Int("workers", cfg.ParallelWorkers, "parallel extraction workers")
	useProcesses := fs.Bool("use-processes", cfg.UseProcessPool, "extract in child processes instead of goroutines")
	forceFullSync := fs.Bool("force-full-sync", cfg.ForceFullSync, "ignore the sync checkpoint and list everything")
	chunkSize := fs.Int("chunk-size", cfg.ChunkSize, "records claimed per batch")
	limit := fs.Int("limit", 10, "search: maximum results")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.MaxFiles = *maxFiles
	cfg.DryRun = *dryRun
	cfg.RetryFailed = *retryFailed
	cfg.ParallelWorkers = *workers
	cfg.UseProcessPool = *useProcesses
	cfg.ForceFullSync = *forceFullSync
	cfg.ChunkSize = *chunkSize

	if cmd == "extract-worker" {
		processor, closeWorker, err := app.NewExtractWorker(ctx, log, cfg)
		if err != nil {
			return err
		}
		defer closeWorker()
		return processor.ServeExtractWorker(ctx, os.Stdin, os.Stdout)
	}

	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "docingest-" + cmd,
		Environment: cfg.LogMode,
	})
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(sctx)
	}()

	a, err := app.New(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := cfg.Options()
	switch cmd {
	case "sync":
		return printReport(a.Runner.Run(ctx, []types.Stage{types.StageSync}, opts))
	case "process":
		return printReport(a.Runner.Run(ctx, []types.Stage{types.StageProcess}, opts))
	case "index":
		return printReport(a.Runner.Run(ctx, []types.Stage{types.StageIndex}, opts))
	case "full":
		return printReport(a.Runner.Full(ctx, opts))
	case "stats":
		stats, err := a.Runner.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)
	case "reset-stale":
		n, err := a.Runner.ResetStale(ctx, cfg.StaleAfter)
		if err != nil {
			return err
		}
		log.Info("Reset stale records", "count", n, "older_than", cfg.StaleAfter.String())
		return printJSON(map[string]int64{"reset": n})
	case "purge":
		return a.Runner.Purge(ctx, opts.DryRun)
	case "search":
		if fs.NArg() == 0 {
			return errors.New("search: at least one query argument is required")
		}
		results, err := a.Search.Search(ctx, fs.Args(), *limit)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"queries": fs.Args(), "results": results})
	case "serve":
		return ignoreCanceled(a.Serve(ctx))
	case "worker":
		return ignoreCanceled(a.Work(ctx, opts))
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, strings.TrimSpace(usage))
	}
}

// printReport writes the report even when the run aborted part way. Per-file failures are
// recorded in the state store and do not fail the command.
func printReport(report *pipeline.Report, runErr error) error {
	if report != nil {
		if err := printJSON(report); err != nil {
			return err
		}
	}
	return runErr
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
