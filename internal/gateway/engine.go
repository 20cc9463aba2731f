package gateway

import (
	"context"
	"fmt"
	"io"

	"github.com/tinygen-oss/app/internal/sandbox"
	"github.com/tinygen-oss/app/internal/storage"
	"go.uber.org/zap"
)

// 로그 메시지로 남길 container 출력의 최대 길이입니다.
const maxLogBytes = 4000

// RunParams는 에이전트 실행 입력입니다.
type RunParams struct {
	ChatID             string
	RepoURL            string
	UserGitHubUsername string
	Prompt             string
	SnapshotID         string
}

// MessageSink는 실행 중 생성된 메시지를 기록합니다.
// realtime.Notifier를 넘기면 저장과 동시에 피드로 전파됩니다.
type MessageSink interface {
	CreateMessage(ctx context.Context, msg *storage.Message) error
}

// AgentEngine은 에이전트 실행 자체를 추상화합니다.
// 실제 추론은 외부 시스템의 몫이고, 여기서는 실행 환경 구동과
// 메시지 기록만 책임집니다.
type AgentEngine interface {
	Execute(ctx context.Context, params RunParams, sink MessageSink) error
}

// SandboxEngine은 대화의 sandbox container 안에서 에이전트를 실행하는
// 기본 AgentEngine 구현입니다.
type SandboxEngine struct {
	sandboxes *sandbox.Manager
	docker    sandbox.DockerClient
	logger    *zap.Logger
}

// NewSandboxEngine은 새 SandboxEngine을 생성합니다.
func NewSandboxEngine(sandboxes *sandbox.Manager, docker sandbox.DockerClient, logger *zap.Logger) *SandboxEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SandboxEngine{
		sandboxes: sandboxes,
		docker:    docker,
		logger:    logger.Named("engine"),
	}
}

// Execute implements AgentEngine.
// sandbox가 없는 대화면 즉시 생성하고, container 출력을 수집해
// assistant 메시지로 기록합니다.
func (e *SandboxEngine) Execute(ctx context.Context, params RunParams, sink MessageSink) error {
	sb, err := e.sandboxes.Get(params.ChatID)
	if err != nil {
		if params.RepoURL == "" {
			return fmt.Errorf("engine: no sandbox for chat %s", params.ChatID)
		}
		sb, err = e.sandboxes.Provision(ctx, sandbox.ProvisionParams{
			ChatID:             params.ChatID,
			RepoURL:            params.RepoURL,
			UserGitHubUsername: params.UserGitHubUsername,
		})
		if err != nil {
			return fmt.Errorf("engine: provision sandbox: %w", err)
		}
	}

	// 실행 시작을 tool 메시지로 기록
	metadata, err := storage.EncodeMetadata(map[string]interface{}{
		"tool_data": map[string]string{
			"tool":         "sandbox",
			"container_id": sb.ContainerID,
			"snapshot_id":  sb.SnapshotID,
		},
	})
	if err != nil {
		return fmt.Errorf("engine: encode metadata: %w", err)
	}
	toolMsg := &storage.Message{
		ChatID:    params.ChatID,
		Role:      storage.MessageRoleAssistant,
		Content:   "Running agent in sandbox " + sb.SnapshotID,
		IsToolUse: true,
		Metadata:  metadata,
	}
	if err := sink.CreateMessage(ctx, toolMsg); err != nil {
		return fmt.Errorf("engine: record tool message: %w", err)
	}

	output, err := e.collectOutput(ctx, sb.ContainerID)
	if err != nil {
		return fmt.Errorf("engine: collect output: %w", err)
	}

	content := output
	if content == "" {
		content = "Agent run completed with no output."
	}
	result := &storage.Message{
		ChatID:  params.ChatID,
		Role:    storage.MessageRoleAssistant,
		Content: content,
	}
	if err := sink.CreateMessage(ctx, result); err != nil {
		return fmt.Errorf("engine: record result message: %w", err)
	}

	e.logger.Info("agent run recorded",
		zap.String("chat_id", params.ChatID),
		zap.String("container_id", sb.ContainerID),
		zap.Int("output_bytes", len(output)),
	)

	return nil
}

// collectOutput은 container 로그를 읽어 뒤쪽 일부만 반환합니다.
func (e *SandboxEngine) collectOutput(ctx context.Context, containerID string) (string, error) {
	logs, err := e.docker.ContainerLogs(ctx, containerID)
	if err != nil {
		return "", err
	}
	defer logs.Close()

	data, err := io.ReadAll(logs)
	if err != nil {
		return "", err
	}
	if len(data) > maxLogBytes {
		data = data[len(data)-maxLogBytes:]
	}
	return string(data), nil
}

// 인터페이스 구현 확인
var _ AgentEngine = (*SandboxEngine)(nil)
