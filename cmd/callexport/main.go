package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "embed"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mastermobile/callexport/internal/app"
	"github.com/mastermobile/callexport/internal/core/model"
	"github.com/mastermobile/callexport/internal/orchestrate"
	"github.com/mastermobile/callexport/internal/support/logger"
)

// embeddedConfig embeds the application's YAML configuration file. It is
// loaded at startup and can be overridden by CALLEXPORT_* environment
// variables.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

const dateLayout = "2006-01-02"

func main() {
	var (
		fromFlag    = flag.String("from", "", "export window start (YYYY-MM-DD, default: 60 days ago)")
		toFlag      = flag.String("to", "", "export window end (YYYY-MM-DD, default: today)")
		actor       = flag.String("actor", "scheduler", "who triggered this run")
		key         = flag.String("idempotency-key", "", "idempotency key for safe re-invocation")
		summaries   = flag.Bool("summaries", false, "generate per-call Markdown summaries")
		dryRun      = flag.Bool("dry-run", false, "list and register calls without downloading or transcribing")
		concurrency = flag.Int("concurrency", 0, "worker count override (0 = configured default)")
	)
	flag.Parse()

	period, err := resolvePeriod(*fromFlag, *toFlag)
	if err != nil {
		logger.Fatalf("Invalid period: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handling for graceful shutdown. In-flight calls finish, new
	// intake stops.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal '%v'. Attempting to stop the run...", sig)
		cancel()
	}()

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	req := orchestrate.Request{
		Period:         period,
		Actor:          *actor,
		IdempotencyKey: *key,
		Options: model.RunOptions{
			GenerateSummary: *summaries,
			DryRun:          *dryRun,
			Concurrency:     *concurrency,
		},
	}

	app.RunApplication(ctx, envFilePath, embeddedConfig, req)
}

// resolvePeriod turns the flag pair into an export window, defaulting to the
// rolling window ending now.
func resolvePeriod(from, to string) (model.Period, error) {
	if from == "" && to == "" {
		return orchestrate.RollingPeriod(time.Now().UTC()), nil
	}

	end := time.Now().UTC()
	if to != "" {
		parsed, err := time.Parse(dateLayout, to)
		if err != nil {
			return model.Period{}, err
		}
		end = parsed
	}
	start := end.AddDate(0, 0, -60)
	if from != "" {
		parsed, err := time.Parse(dateLayout, from)
		if err != nil {
			return model.Period{}, err
		}
		start = parsed
	}
	period := model.NewPeriod(start, end)
	return period, period.Validate()
}
