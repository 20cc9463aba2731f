package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tinygen-oss/app/internal/common"
	"github.com/tinygen-oss/app/internal/gateway"
	"github.com/tinygen-oss/app/internal/realtime"
	"github.com/tinygen-oss/app/internal/sandbox"
	"github.com/tinygen-oss/app/internal/storage"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Logger 초기화
	logger, err := common.NewLogger("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	rootCmd := &cobra.Command{
		Use:     "tinygen",
		Short:   "TinyGen - AI Coding Assistant CLI",
		Long:    `TinyGen is a command-line interface for the agent-runner gateway and local chat management.`,
		Version: fmt.Sprintf("%s (built at %s)", Version, BuildTime),
	}

	// start 명령어
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the agent-runner gateway server",
		Long:  `Start the HTTP gateway that serves sandbox provisioning, agent runs, and message streams.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(logger)
		},
	}

	// health 명령어
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check application health status",
		Long:  `Check if the application is running and healthy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("OK")
			return nil
		},
	}

	// 명령어 구성
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(buildChatCommands(logger))

	if err := rootCmd.Execute(); err != nil {
		logger.Error("Command execution failed", zap.Error(err))
		os.Exit(1)
	}
}

// runStart는 gateway 서버를 시작합니다.
func runStart(logger *zap.Logger) error {
	logger.Info("Starting TinyGen gateway",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	if err := common.InitConfig(""); err != nil {
		logger.Error("Failed to initialize config", zap.Error(err))
		return err
	}
	cfg := common.GetConfig()

	repo, cleanup, err := initStorage(logger)
	if err != nil {
		logger.Error("Failed to initialize storage", zap.Error(err))
		return err
	}
	defer cleanup()

	docker, err := sandbox.NewDockerClient()
	if err != nil {
		logger.Error("Failed to create docker client", zap.Error(err))
		return err
	}
	defer docker.Close()

	hub := realtime.NewHub(logger.Named("realtime"))
	defer hub.Close()
	notifier := realtime.NewNotifier(repo, hub, logger.Named("realtime"))

	sandboxes := sandbox.NewManager(docker, sandbox.ManagerConfig{
		Image:            cfg.Sandbox.Image,
		WorkspaceBaseDir: common.GetWorkspaceDir(),
		Env:              cfg.GetAPIKeyEnvVars(),
	}, logger)
	engine := gateway.NewSandboxEngine(sandboxes, docker, logger)
	gatewayServer := gateway.NewServer(logger.Named("gateway"), cfg, notifier, sandboxes, engine)

	// Context 생성
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown을 위한 signal 처리
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// 에러 채널
	errChan := make(chan error, 1)
	var wg sync.WaitGroup

	// Gateway 서버 시작
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gatewayServer.Start(ctx); err != nil && err != context.Canceled {
			errChan <- fmt.Errorf("gateway error: %w", err)
		}
	}()

	// 종료 대기
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received")
		cancel()
	case err := <-errChan:
		logger.Error("Server error", zap.Error(err))
		cancel()
		return err
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	sandboxes.TeardownAll(shutdownCtx)
	wg.Wait()

	logger.Info("Servers stopped gracefully")
	return nil
}

func initStorage(logger *zap.Logger) (*storage.Repository, func(), error) {
	cfg, err := storage.ConfigFromEnv()
	if err != nil {
		return nil, func() {}, err
	}

	db, err := storage.Open(cfg)
	if err != nil {
		return nil, func() {}, err
	}

	if err := storage.AutoMigrate(db); err != nil {
		_ = storage.Close(db)
		return nil, func() {}, err
	}

	repo, err := storage.NewRepository(db)
	if err != nil {
		_ = storage.Close(db)
		return nil, func() {}, err
	}

	cleanup := func() {
		if err := storage.Close(db); err != nil {
			logger.Warn("Failed to close storage", zap.Error(err))
		}
	}

	return repo, cleanup, nil
}
