package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// container 중지 시 강제 종료까지 대기할 시간(초)입니다.
const stopTimeoutSeconds = 10

// Sandbox는 대화에 연결된 실행 환경입니다.
type Sandbox struct {
	ChatID       string    `json:"chat_id"`
	SnapshotID   string    `json:"snapshot_id"`
	ContainerID  string    `json:"container_id"`
	WorkspaceDir string    `json:"workspace_dir"`
	RepoURL      string    `json:"repo_url"`
	CreatedAt    time.Time `json:"created_at"`
}

// ManagerConfig는 Manager 설정입니다.
type ManagerConfig struct {
	// Image는 sandbox container 이미지입니다.
	Image string

	// WorkspaceBaseDir은 대화별 워크스페이스의 상위 디렉토리입니다.
	WorkspaceBaseDir string

	// Env는 container에 전달할 추가 환경 변수입니다 (API 키 등).
	Env []string
}

// ProvisionParams는 sandbox 생성 입력입니다.
type ProvisionParams struct {
	ChatID             string
	RepoURL            string
	UserGitHubUsername string
}

// Manager는 대화별 sandbox의 생성과 종료를 관리합니다.
type Manager struct {
	docker DockerClient
	config ManagerConfig
	logger *zap.Logger

	mu     sync.RWMutex
	active map[string]*Sandbox // chatID -> sandbox
}

// NewManager는 새 Manager를 생성합니다.
func NewManager(docker DockerClient, config ManagerConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		docker: docker,
		config: config,
		logger: logger.Named("sandbox"),
		active: make(map[string]*Sandbox),
	}
}

// Provision은 대화용 sandbox를 생성합니다.
// 워크스페이스 디렉토리를 만들고 container를 띄운 뒤 스냅샷 ID를
// 발급합니다. 같은 대화에 대한 중복 생성은 거부됩니다.
func (m *Manager) Provision(ctx context.Context, params ProvisionParams) (*Sandbox, error) {
	if params.RepoURL == "" {
		return nil, NewSandboxError("Provision", params.ChatID, ErrRepoURLRequired)
	}

	m.mu.Lock()
	if _, exists := m.active[params.ChatID]; exists {
		m.mu.Unlock()
		return nil, NewSandboxError("Provision", params.ChatID, ErrSandboxExists)
	}
	m.mu.Unlock()

	if err := m.docker.Ping(ctx); err != nil {
		return nil, NewSandboxError("Provision", params.ChatID, fmt.Errorf("%w: %v", ErrDockerUnavailable, err))
	}

	workspaceDir := filepath.Join(m.config.WorkspaceBaseDir, params.ChatID)
	if err := os.MkdirAll(filepath.Join(workspaceDir, "project"), 0755); err != nil {
		return nil, NewSandboxError("Provision", params.ChatID, fmt.Errorf("워크스페이스 생성 실패: %w", err))
	}

	env := append([]string{}, m.config.Env...)
	env = append(env,
		"TINYGEN_CHAT_ID="+params.ChatID,
		"TINYGEN_REPO_URL="+params.RepoURL,
	)
	if params.UserGitHubUsername != "" {
		env = append(env, "TINYGEN_GITHUB_USERNAME="+params.UserGitHubUsername)
	}

	containerID, err := m.docker.CreateContainer(ctx, ContainerConfig{
		Image: m.config.Image,
		Name:  "tinygen-sandbox-" + params.ChatID,
		Env:   env,
		Mounts: []MountConfig{
			{Source: workspaceDir, Target: "/workspace"},
		},
		Labels: map[string]string{
			"tinygen.chat_id": params.ChatID,
			"tinygen.managed": "true",
		},
	})
	if err != nil {
		return nil, NewSandboxError("Provision", params.ChatID, err)
	}

	if err := m.docker.StartContainer(ctx, containerID); err != nil {
		// 시작 실패한 container는 정리
		if rmErr := m.docker.RemoveContainer(ctx, containerID); rmErr != nil {
			m.logger.Warn("failed to remove container after start failure",
				zap.String("container_id", containerID),
				zap.Error(rmErr),
			)
		}
		return nil, NewSandboxError("Provision", params.ChatID, err)
	}

	sb := &Sandbox{
		ChatID:       params.ChatID,
		SnapshotID:   newSnapshotID(),
		ContainerID:  containerID,
		WorkspaceDir: workspaceDir,
		RepoURL:      params.RepoURL,
		CreatedAt:    time.Now(),
	}

	m.mu.Lock()
	m.active[params.ChatID] = sb
	m.mu.Unlock()

	m.logger.Info("sandbox provisioned",
		zap.String("chat_id", params.ChatID),
		zap.String("snapshot_id", sb.SnapshotID),
		zap.String("container_id", containerID),
		zap.String("repo_url", params.RepoURL),
	)

	return sb, nil
}

// Get은 대화의 sandbox를 조회합니다.
func (m *Manager) Get(chatID string) (*Sandbox, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sb, exists := m.active[chatID]
	if !exists {
		return nil, NewSandboxError("Get", chatID, ErrSandboxNotFound)
	}
	return sb, nil
}

// Teardown은 대화의 sandbox를 중지하고 삭제합니다.
// 워크스페이스 디렉토리는 디버깅을 위해 남겨 둡니다.
func (m *Manager) Teardown(ctx context.Context, chatID string) error {
	m.mu.Lock()
	sb, exists := m.active[chatID]
	if !exists {
		m.mu.Unlock()
		return NewSandboxError("Teardown", chatID, ErrSandboxNotFound)
	}
	delete(m.active, chatID)
	m.mu.Unlock()

	if err := m.docker.StopContainer(ctx, sb.ContainerID, stopTimeoutSeconds); err != nil {
		m.logger.Warn("failed to stop sandbox container",
			zap.String("chat_id", chatID),
			zap.String("container_id", sb.ContainerID),
			zap.Error(err),
		)
	}
	if err := m.docker.RemoveContainer(ctx, sb.ContainerID); err != nil {
		return NewSandboxError("Teardown", chatID, err)
	}

	m.logger.Info("sandbox removed",
		zap.String("chat_id", chatID),
		zap.String("container_id", sb.ContainerID),
	)

	return nil
}

// TeardownAll은 관리 중인 모든 sandbox를 정리합니다. 종료 시 호출됩니다.
func (m *Manager) TeardownAll(ctx context.Context) {
	m.mu.RLock()
	chatIDs := make([]string, 0, len(m.active))
	for chatID := range m.active {
		chatIDs = append(chatIDs, chatID)
	}
	m.mu.RUnlock()

	for _, chatID := range chatIDs {
		if err := m.Teardown(ctx, chatID); err != nil {
			m.logger.Warn("failed to tear down sandbox",
				zap.String("chat_id", chatID),
				zap.Error(err),
			)
		}
	}
}

// Count는 활성 sandbox 수를 반환합니다.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// newSnapshotID는 새 스냅샷 ID를 발급합니다.
func newSnapshotID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "snap-" + id[:12]
}
