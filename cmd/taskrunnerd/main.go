// Command taskrunnerd starts the task runner's HTTP surface, wiring the
// Safety Validator, Tool Dispatcher, LLM Adapter, Planner, Guardrail Engine,
// and Sequential Executor behind the Service Facade, grounded on the
// teacher's core/cmd/example/main.go construction-then-Start shape,
// enriched with a graceful-shutdown net/http.Server since the teacher's own
// example never runs as a long-lived network service.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avalonlabs/taskrunner/corecfg"
	"github.com/avalonlabs/taskrunner/corelog"
	"github.com/avalonlabs/taskrunner/executor"
	"github.com/avalonlabs/taskrunner/guardrail"
	"github.com/avalonlabs/taskrunner/httpapi"
	"github.com/avalonlabs/taskrunner/llm"
	"github.com/avalonlabs/taskrunner/metrics"
	"github.com/avalonlabs/taskrunner/planner"
	"github.com/avalonlabs/taskrunner/prompt"
	"github.com/avalonlabs/taskrunner/registry"
	"github.com/avalonlabs/taskrunner/rtt"
	"github.com/avalonlabs/taskrunner/safety"
	"github.com/avalonlabs/taskrunner/service"
	"github.com/avalonlabs/taskrunner/tool"
)

func main() {
	cfg := corecfg.Default()
	if key := os.Getenv("TASKRUNNER_MODEL_API_KEY"); key != "" {
		cfg.Model.APIKey = key
	}
	if endpoint := os.Getenv("TASKRUNNER_MODEL_ENDPOINT"); endpoint != "" {
		cfg.Model.Endpoint = endpoint
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := corelog.New("taskrunnerd", cfg.Logging.Format, cfg.Logging.Level, os.Stdout)

	validator := safety.New(safety.Config{
		SandboxRoot:           cfg.Tools.WorkingDirectory,
		AllowedPaths:          cfg.Tools.AllowedPaths,
		ForbiddenCommands:     cfg.Tools.ForbiddenCommands,
		CommandWhitelist:      cfg.Tools.CommandWhitelist,
		MaxCommandTimeoutSecs: cfg.Tools.MaxCommandTimeoutSecs,
	})

	dispatcherTools := []tool.Tool{
		tool.NewReadFileTool(validator),
		tool.NewListFilesTool(validator),
	}
	if cfg.Tools.EnableFileOperations {
		dispatcherTools = append(dispatcherTools, tool.NewWriteFileTool(validator))
	}
	if cfg.Tools.EnableCommandExecution {
		dispatcherTools = append(dispatcherTools, tool.NewRunCommandTool(validator,
			time.Duration(cfg.Tools.MaxCommandTimeoutSecs)*time.Second))
	}
	dispatcher := tool.New(dispatcherTools...)

	adapter := llm.New(logger.WithComponent("llm"),
		llm.WithModel(cfg.Model.ModelName),
		llm.WithAPIKey(cfg.Model.APIKey),
		llm.WithEndpoint(cfg.Model.Endpoint),
		llm.WithMaxTokens(cfg.Model.MaxTokens),
		llm.WithTemperature(cfg.Model.Temperature),
		llm.WithTimeout(cfg.Model.Timeout),
		llm.WithMaxRetries(cfg.Resilience.RetryMaxAttempts),
		// WithProviderDefaults runs last so it only fills in an API key or
		// endpoint cfg.Model left blank, per its own setIfEmpty contract.
		llm.WithProviderDefaults(llm.Provider(cfg.Model.Provider)),
	)

	builder := prompt.New(prompt.Config{})

	retryCfg := &rtt.Config{
		MaxAttempts:   cfg.Resilience.RetryMaxAttempts,
		InitialDelay:  cfg.Resilience.RetryInitialInterval,
		MaxDelay:      cfg.Resilience.RetryMaxInterval,
		BackoffFactor: cfg.Resilience.RetryMultiplier,
		JitterEnabled: true,
	}

	classifierCfg := guardrail.DefaultConfig()
	classifierCfg.ProtectedPaths = cfg.Guardrail.ProtectedPaths
	classifierCfg.FileCountThreshold = cfg.Guardrail.FileCountThreshold
	classifierCfg.LineCountThreshold = cfg.Guardrail.LineCountThreshold
	classifierCfg.SizeThresholdBytes = cfg.Guardrail.SizeThresholdBytes
	classifier := guardrail.NewRiskClassifier(classifierCfg)

	guardEngine := guardrail.New(classifier,
		guardrail.WithPolicy(guardrail.NewGuardPolicy()),
		guardrail.WithTimeout(cfg.Guardrail.ConfirmationTimeout),
		guardrail.WithLogger(logger.WithComponent("guardrail")),
	)

	p := planner.New(adapter, builder, retryCfg, logger.WithComponent("planner"))

	e := executor.New(adapter, builder, guardEngine, dispatcher,
		executor.WithConfig(executor.Config{
			MinConfidenceThreshold: cfg.Execution.MinConfidence,
			MaxRetriesPerPhase:     cfg.Execution.MaxRetriesPerPhase,
			TaskTimeout:            cfg.Execution.TaskTimeout,
		}),
		executor.WithRetry(retryCfg),
		executor.WithLogger(logger.WithComponent("executor")),
	)

	reg := registry.New(cfg.Service.MaxConcurrentTasks, registry.WithShardCount(cfg.Service.ShardCount))

	collector := metrics.New()

	facade := service.New(
		service.Config{
			MaxConcurrentTasks: cfg.Service.MaxConcurrentTasks,
			DefaultMode:        service.ModePhased,
			DefaultTaskTimeout: cfg.Service.DefaultTaskTimeout,
		},
		reg, p, e, dispatcher,
		service.WithLogger(logger.WithComponent("service")),
		service.WithMetrics(collector),
	)
	if err := facade.Start(context.Background()); err != nil {
		log.Fatalf("facade start: %v", err)
	}

	srv := httpapi.New(facade, cfg, logger.WithComponent("httpapi"))

	addr := os.Getenv("TASKRUNNER_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Service.DefaultTaskTimeout + 30*time.Second,
	}

	go func() {
		logger.Info("taskrunnerd listening", map[string]interface{}{"addr": addr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := facade.Shutdown(ctx); err != nil {
		logger.Error("facade shutdown error", map[string]interface{}{"error": err.Error()})
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown error", map[string]interface{}{"error": err.Error()})
	}
}
