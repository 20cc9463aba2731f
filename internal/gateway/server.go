// Package gateway는 agent-runner HTTP 서비스입니다.
// sandbox 생성, 에이전트 실행 요청, GitHub App 확인, 메시지 스트림을
// 제공합니다.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/tinygen-oss/app/internal/common"
	"github.com/tinygen-oss/app/internal/realtime"
	"github.com/tinygen-oss/app/internal/sandbox"
	"github.com/tinygen-oss/app/internal/storage"
	"go.uber.org/zap"
)

// runHandle은 진행 중인 에이전트 실행의 취소 핸들입니다.
type runHandle struct {
	cancel    context.CancelFunc
	startedAt time.Time
}

// Server는 agent-runner 서비스의 모든 상태를 관리하는 중앙 구조체입니다.
type Server struct {
	logger    *zap.Logger
	config    *common.Config
	notifier  *realtime.Notifier
	sandboxes *sandbox.Manager
	engine    AgentEngine

	httpServer *http.Server
	github     *http.Client

	runsMutex  sync.Mutex
	activeRuns map[string]*runHandle // chatID -> run
	runsWG     sync.WaitGroup
}

// NewServer는 새로운 gateway 서버를 생성하고 초기화합니다.
func NewServer(logger *zap.Logger, config *common.Config, notifier *realtime.Notifier, sandboxes *sandbox.Manager, engine AgentEngine) *Server {
	return &Server{
		logger:     logger,
		config:     config,
		notifier:   notifier,
		sandboxes:  sandboxes,
		engine:     engine,
		github:     &http.Client{Timeout: 10 * time.Second},
		activeRuns: make(map[string]*runHandle),
	}
}

// Handler는 라우팅이 구성된 http.Handler를 반환합니다.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /create-sandbox", s.handleCreateSandbox)
	mux.HandleFunc("POST /run-claude-agent", s.handleRunAgent)
	mux.HandleFunc("GET /check-github-app/{handle}", s.handleCheckGitHubApp)
	mux.HandleFunc("GET /chats/{id}/stream", s.handleStream)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Start는 HTTP 서버를 시작하고 컨텍스트가 취소될 때까지 대기합니다.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting gateway server")

	if err := godotenv.Load(); err != nil {
		s.logger.Warn("Could not load .env file", zap.Error(err))
	}
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              s.config.Backend.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("Gateway is now listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("gateway server failed: %w", err)
	case <-ctx.Done():
		s.logger.Info("Gateway server shutting down")
		return s.Stop(context.Background())
	}
}

// Stop은 진행 중인 실행을 취소하고 HTTP 서버를 정상 종료합니다.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping gateway server")

	s.runsMutex.Lock()
	for chatID, run := range s.activeRuns {
		s.logger.Info("Canceling active run", zap.String("chat_id", chatID))
		run.cancel()
	}
	s.runsMutex.Unlock()
	s.runsWG.Wait()

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Error shutting down http server", zap.Error(err))
			return err
		}
	}

	s.logger.Info("Gateway server stopped")
	return nil
}

// repo는 notifier 뒤의 저장소를 반환합니다.
func (s *Server) repo() *storage.Repository {
	return s.notifier.Repository()
}
