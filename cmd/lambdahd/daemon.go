package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lambdah/lambdah/internal/api/invoke"
	"github.com/lambdah/lambdah/internal/api/runtimeapi"
	"github.com/lambdah/lambdah/internal/autoscaler"
	"github.com/lambdah/lambdah/internal/config"
	"github.com/lambdah/lambdah/internal/driver"
	"github.com/lambdah/lambdah/internal/imagebuilder"
	"github.com/lambdah/lambdah/internal/invqueue"
	"github.com/lambdah/lambdah/internal/lifecycle"
	"github.com/lambdah/lambdah/internal/limiter"
	"github.com/lambdah/lambdah/internal/logging"
	"github.com/lambdah/lambdah/internal/metrics"
	"github.com/lambdah/lambdah/internal/pending"
	"github.com/lambdah/lambdah/internal/pool"
	"github.com/lambdah/lambdah/internal/registry"
	"github.com/lambdah/lambdah/internal/secrets"
	"github.com/lambdah/lambdah/internal/watchdog"
)

// containerIndex maps container ids to the function key they belong to,
// the bit of bookkeeping the Lifecycle Monitor needs that the Warm Pool
// itself doesn't expose cheaply (the pool is keyed by function key, not
// by container id).
type containerIndex struct {
	mu   sync.RWMutex
	keys map[string]string
}

func newContainerIndex() *containerIndex { return &containerIndex{keys: make(map[string]string)} }

func (c *containerIndex) register(functionKey, containerID string) {
	c.mu.Lock()
	c.keys[containerID] = functionKey
	c.mu.Unlock()
}

func (c *containerIndex) FunctionKeyForContainer(containerID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.keys[containerID]
	return k, ok
}

// runtimeAPIHostAddr turns the Runtime API's bind address into the address
// a worker container injects as AWS_LAMBDA_RUNTIME_API: a bare ":9001"
// bind address means "this host, port 9001", which from inside a
// container means host.docker.internal, the same substitution
// security.rs's sanitize_environment_variables makes.
func runtimeAPIHostAddr(bindAddr string) string {
	if strings.HasPrefix(bindAddr, ":") {
		return "host.docker.internal" + bindAddr
	}
	return bindAddr
}

func daemonCmd() *cobra.Command {
	var (
		logLevel   string
		manifest   string
		httpAddr   string
		runtimeAPI string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the lambdahd invocation dataplane",
		Long:  "Run the Invoke API, Runtime API, warm pool, autoscaler, and idle watchdog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("log-level") {
				cfg.Logging.Level = logLevel
			}
			if cmd.Flags().Changed("http-addr") {
				cfg.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("runtime-api-addr") {
				cfg.RuntimeAPIAddr = runtimeAPI
			}

			logging.SetLevelFromString(cfg.Logging.Level)
			logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)
			metrics.Init("lambdah")

			drv, err := driver.NewContainerdDriver(cfg.Driver.ContainerdSocket, cfg.Driver.Namespace)
			if err != nil {
				return fmt.Errorf("connect containerd: %w", err)
			}
			defer drv.Close()

			var cipher *secrets.Cipher
			secretStore := secrets.NewStore(cipher)
			resolver := secrets.NewResolver(secretStore)

			lim := limiter.New(int64(cfg.MaxGlobalConcurrency))
			reg := registry.NewMemRegistry(resolver)
			if manifest != "" {
				manifests, err := registry.LoadManifestFile(manifest)
				if err != nil {
					return fmt.Errorf("load manifest: %w", err)
				}
				for _, m := range manifests {
					if _, err := reg.Register(m.ToFunction()); err != nil {
						return fmt.Errorf("register function %s: %w", m.Name, err)
					}
					if m.ReservedConcurrency > 0 {
						lim.SetReservedConcurrency(m.Name, m.ReservedConcurrency)
					}
				}
				logging.Op().Info("loaded function manifest", "path", manifest, "count", len(manifests))
			}

			warmPool := pool.New()
			queues := invqueue.New()
			pendingReg := pending.New()
			index := newContainerIndex()
			tailLog := logging.NewTailStore()
			requestLogger := logging.Default()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			monitor := lifecycle.New(drv, warmPool, index)
			go func() {
				if err := monitor.Run(ctx); err != nil && ctx.Err() == nil {
					logging.Op().Error("lifecycle monitor stopped", "error", err)
				}
			}()

			scaler := autoscaler.New(drv, warmPool, queues, reg, reg, imagebuilder.PassThrough{}, index.register, runtimeAPIHostAddr(cfg.RuntimeAPIAddr))
			go scaler.Run(ctx)

			idleWatchdog := watchdog.New(drv, warmPool, cfg.Pool.SoftIdle, cfg.Pool.HardIdle)
			go idleWatchdog.Run(ctx)

			invokeHandler := &invoke.Handler{
				Registry: reg,
				Queues:   queues,
				Pending:  pendingReg,
				Limiter:  lim,
				Logger:   requestLogger,
				TailLog:  tailLog,
			}
			runtimeHandler := &runtimeapi.Handler{Queues: queues, Pending: pendingReg, Pool: warmPool}

			userMux := http.NewServeMux()
			invokeHandler.RegisterRoutes(userMux)
			userMux.Handle("GET /metrics", metrics.Global().Handler())

			runtimeMux := http.NewServeMux()
			runtimeHandler.RegisterRoutes(runtimeMux)

			userSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: userMux}
			runtimeSrv := &http.Server{Addr: cfg.RuntimeAPIAddr, Handler: runtimeMux}

			go func() {
				logging.Op().Info("invoke API listening", "addr", cfg.HTTPAddr)
				if err := userSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logging.Op().Error("invoke API server failed", "error", err)
				}
			}()
			go func() {
				logging.Op().Info("runtime API listening", "addr", cfg.RuntimeAPIAddr)
				if err := runtimeSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logging.Op().Error("runtime API server failed", "error", err)
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logging.Op().Info("shutdown signal received")

			cancel()
			pendingReg.DrainWithError([]byte(`{"errorMessage":"service shutting down","errorType":"ServiceUnavailable"}`))
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			_ = userSrv.Shutdown(shutdownCtx)
			_ = runtimeSrv.Shutdown(shutdownCtx)
			requestLogger.Close()
			return nil
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	cmd.Flags().StringVar(&manifest, "manifest", "", "Path to a function manifest YAML file")
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "Invoke API listen address")
	cmd.Flags().StringVar(&runtimeAPI, "runtime-api-addr", "", "Runtime API listen address")

	return cmd
}
