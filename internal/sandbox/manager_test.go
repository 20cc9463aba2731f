package sandbox_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinygen-oss/app/internal/sandbox"
	"github.com/tinygen-oss/app/internal/testutil/mocks"
	"go.uber.org/zap/zaptest"
)

func newTestManager(t *testing.T) (*sandbox.Manager, *mocks.MockDockerClient) {
	t.Helper()
	docker := mocks.NewMockDockerClient()
	manager := sandbox.NewManager(docker, sandbox.ManagerConfig{
		Image:            "tinygen-sandbox:latest",
		WorkspaceBaseDir: t.TempDir(),
		Env:              []string{"ANTHROPIC_API_KEY=test-key"},
	}, zaptest.NewLogger(t))
	return manager, docker
}

func TestProvisionCreatesAndStartsContainer(t *testing.T) {
	manager, docker := newTestManager(t)

	sb, err := manager.Provision(context.Background(), sandbox.ProvisionParams{
		ChatID:             "chat-1",
		RepoURL:            "https://github.com/acme/widgets",
		UserGitHubUsername: "octocat",
	})
	require.NoError(t, err)

	assert.Equal(t, "chat-1", sb.ChatID)
	assert.True(t, strings.HasPrefix(sb.SnapshotID, "snap-"))
	assert.NotEmpty(t, sb.ContainerID)

	require.Len(t, docker.Created, 1)
	cfg := docker.Created[0]
	assert.Equal(t, "tinygen-sandbox:latest", cfg.Image)
	assert.Equal(t, "tinygen-sandbox-chat-1", cfg.Name)
	assert.Equal(t, "chat-1", cfg.Labels["tinygen.chat_id"])
	assert.Contains(t, cfg.Env, "ANTHROPIC_API_KEY=test-key")
	assert.Contains(t, cfg.Env, "TINYGEN_CHAT_ID=chat-1")
	assert.Contains(t, cfg.Env, "TINYGEN_REPO_URL=https://github.com/acme/widgets")
	assert.Contains(t, cfg.Env, "TINYGEN_GITHUB_USERNAME=octocat")

	require.Len(t, cfg.Mounts, 1)
	assert.Equal(t, "/workspace", cfg.Mounts[0].Target)

	// 워크스페이스 디렉토리가 실제로 생성됨
	_, statErr := os.Stat(filepath.Join(sb.WorkspaceDir, "project"))
	assert.NoError(t, statErr)

	assert.Len(t, docker.Started, 1)
	assert.Equal(t, 1, manager.Count())
}

func TestProvisionRejectsDuplicateChat(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	params := sandbox.ProvisionParams{
		ChatID:  "chat-1",
		RepoURL: "https://github.com/acme/widgets",
	}
	_, err := manager.Provision(ctx, params)
	require.NoError(t, err)

	_, err = manager.Provision(ctx, params)
	assert.ErrorIs(t, err, sandbox.ErrSandboxExists)
}

func TestProvisionRequiresRepoURL(t *testing.T) {
	manager, _ := newTestManager(t)

	_, err := manager.Provision(context.Background(), sandbox.ProvisionParams{ChatID: "chat-1"})
	assert.ErrorIs(t, err, sandbox.ErrRepoURLRequired)
}

func TestProvisionFailsWhenDockerUnavailable(t *testing.T) {
	manager, docker := newTestManager(t)
	docker.PingErr = errors.New("connection refused")

	_, err := manager.Provision(context.Background(), sandbox.ProvisionParams{
		ChatID:  "chat-1",
		RepoURL: "https://github.com/acme/widgets",
	})
	assert.ErrorIs(t, err, sandbox.ErrDockerUnavailable)
}

func TestProvisionCleansUpOnStartFailure(t *testing.T) {
	manager, docker := newTestManager(t)
	docker.StartErr = errors.New("image not found")

	_, err := manager.Provision(context.Background(), sandbox.ProvisionParams{
		ChatID:  "chat-1",
		RepoURL: "https://github.com/acme/widgets",
	})
	require.Error(t, err)

	// 시작 실패한 container는 제거되고 등록되지 않음
	assert.Len(t, docker.Removed, 1)
	assert.Equal(t, 0, manager.Count())
}

func TestTeardownStopsAndRemoves(t *testing.T) {
	manager, docker := newTestManager(t)
	ctx := context.Background()

	sb, err := manager.Provision(ctx, sandbox.ProvisionParams{
		ChatID:  "chat-1",
		RepoURL: "https://github.com/acme/widgets",
	})
	require.NoError(t, err)

	require.NoError(t, manager.Teardown(ctx, "chat-1"))
	assert.Equal(t, []string{sb.ContainerID}, docker.Stopped)
	assert.Equal(t, []string{sb.ContainerID}, docker.Removed)
	assert.Equal(t, 0, manager.Count())

	_, err = manager.Get("chat-1")
	assert.ErrorIs(t, err, sandbox.ErrSandboxNotFound)
}

func TestTeardownUnknownChat(t *testing.T) {
	manager, _ := newTestManager(t)
	err := manager.Teardown(context.Background(), "nope")
	assert.ErrorIs(t, err, sandbox.ErrSandboxNotFound)

	var sbErr *sandbox.SandboxError
	require.ErrorAs(t, err, &sbErr)
	assert.Equal(t, "Teardown", sbErr.Op)
	assert.Equal(t, "nope", sbErr.ChatID)
}

func TestTeardownAll(t *testing.T) {
	manager, docker := newTestManager(t)
	ctx := context.Background()

	for _, chatID := range []string{"chat-1", "chat-2", "chat-3"} {
		_, err := manager.Provision(ctx, sandbox.ProvisionParams{
			ChatID:  chatID,
			RepoURL: "https://github.com/acme/widgets",
		})
		require.NoError(t, err)
	}
	require.Equal(t, 3, manager.Count())

	manager.TeardownAll(ctx)
	assert.Equal(t, 0, manager.Count())
	assert.Len(t, docker.Removed, 3)
}
