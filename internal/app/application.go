// Package app wires the export pipeline together and runs one export cycle
// inside an Fx container.
package app

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/mastermobile/callexport/internal/bitrix"
	"github.com/mastermobile/callexport/internal/config"
	"github.com/mastermobile/callexport/internal/core/model"
	"github.com/mastermobile/callexport/internal/ledger"
	"github.com/mastermobile/callexport/internal/metrics"
	"github.com/mastermobile/callexport/internal/orchestrate"
	"github.com/mastermobile/callexport/internal/storage"
	"github.com/mastermobile/callexport/internal/support/logger"
	"github.com/mastermobile/callexport/internal/transcribe"
)

// RunApplication sets up and runs the export application using uber-fx.
// It returns once the run reaches a terminal status or startup fails.
func RunApplication(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig, req orchestrate.Request) {
	application := fx.New(
		fx.Supply(
			embeddedConfig,
			req,
			fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
			fx.Annotate(
				appCtx,
				fx.As(new(context.Context)),
				fx.ResultTags(`name:"appCtx"`),
			),
		),

		logger.Module,
		config.Module,
		storage.Module,
		bitrix.Module,
		transcribe.Module,
		ledger.Module,
		metrics.Module,
		orchestrate.Module,

		fx.Invoke(fx.Annotate(startExport, fx.ParamTags(
			"",              // lc fx.Lifecycle
			"",              // shutdowner fx.Shutdowner
			"",              // orchestrator *orchestrate.Orchestrator
			"",              // cleaner *storage.Cleaner
			"",              // cfg *config.Config
			"",              // req orchestrate.Request
			`name:"appCtx"`, // appCtx context.Context
		))),
	)

	application.Run()

	if application.Err() != nil {
		logger.Fatalf("Application run failed: %v", application.Err())
	}
}

// startExport launches the export run once the container is up and shuts the
// application down when the run finishes.
func startExport(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	orchestrator *orchestrate.Orchestrator,
	cleaner *storage.Cleaner,
	cfg *config.Config,
	req orchestrate.Request,
	appCtx context.Context,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				exitCode := 0
				defer func() {
					if r := recover(); r != nil {
						logger.Errorf("Panic recovered in export run: %v", r)
						exitCode = 1
					}
					if err := shutdowner.Shutdown(fx.ExitCode(exitCode)); err != nil {
						logger.Errorf("Failed to shutdown application: %v", err)
					}
				}()

				run, err := orchestrator.Execute(appCtx, req)
				if err != nil {
					logger.Errorf("Export run failed: %v", err)
					exitCode = 1
					return
				}
				if run.Status != model.RunStatusCompleted {
					exitCode = 1
					return
				}
				if !req.Options.DryRun {
					if deleted, err := cleaner.Run(appCtx, time.Now()); err != nil {
						logger.Warnf("Retention cleanup finished with errors: %v", err)
					} else if deleted > 0 {
						logger.Infof("Retention cleanup removed %d expired objects", deleted)
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Infof("Application is shutting down.")
			return nil
		},
	})
}
