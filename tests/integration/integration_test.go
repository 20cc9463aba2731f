package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tinygen-oss/app/internal/chatview"
	"github.com/tinygen-oss/app/internal/common"
	"github.com/tinygen-oss/app/internal/gateway"
	"github.com/tinygen-oss/app/internal/identity"
	"github.com/tinygen-oss/app/internal/realtime"
	taskrunner "github.com/tinygen-oss/app/internal/runner"
	"github.com/tinygen-oss/app/internal/sandbox"
	"github.com/tinygen-oss/app/internal/storage"
	"github.com/tinygen-oss/app/internal/testutil/mocks"
)

// TestMain은 통합 테스트 실행 전후에 필요한 설정을 수행합니다.
func TestMain(m *testing.M) {
	if err := os.Setenv("TINYGEN_ENV", "integration"); err != nil {
		os.Exit(1)
	}

	code := m.Run()

	if err := os.Unsetenv("TINYGEN_ENV"); err != nil {
		panic("환경 변수 제거 실패 (TINYGEN_ENV): " + err.Error())
	}

	os.Exit(code)
}

// integrationStack은 게이트웨이와 그 협력자를 실제 HTTP 서버로 묶은
// 테스트 구성입니다. Docker만 mock이고 나머지는 실제 구현입니다.
type integrationStack struct {
	repo      *storage.Repository
	hub       *realtime.Hub
	notifier  *realtime.Notifier
	docker    *mocks.MockDockerClient
	sandboxes *sandbox.Manager
	gateway   *httptest.Server
	client    *taskrunner.Client
}

func newIntegrationStack(t *testing.T) *integrationStack {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, storage.AutoMigrate(db))
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		require.NoError(t, err)
		require.NoError(t, sqlDB.Close())
	})

	repo, err := storage.NewRepository(db)
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	hub := realtime.NewHub(logger)
	t.Cleanup(hub.Close)
	notifier := realtime.NewNotifier(repo, hub, logger)

	docker := mocks.NewMockDockerClient()
	sandboxes := sandbox.NewManager(docker, sandbox.ManagerConfig{
		Image:            "tinygen-sandbox:latest",
		WorkspaceBaseDir: t.TempDir(),
	}, logger)

	engine := gateway.NewSandboxEngine(sandboxes, docker, logger)
	config := &common.Config{
		Backend: common.BackendConfig{ListenAddr: "127.0.0.1:0"},
		GitHub:  common.GitHubConfig{APIBaseURL: "https://api.github.com"},
	}
	server := gateway.NewServer(logger, config, notifier, sandboxes, engine)

	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(httpServer.Close)

	return &integrationStack{
		repo:      repo,
		hub:       hub,
		notifier:  notifier,
		docker:    docker,
		sandboxes: sandboxes,
		gateway:   httpServer,
		client:    taskrunner.NewClient(httpServer.URL, taskrunner.WithLogger(logger)),
	}
}

// TestEndToEndWorkflow는 대화 생성부터 에이전트 실행 결과 수신까지의
// 전체 워크플로우를 테스트합니다.
func TestEndToEndWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("통합 테스트는 짧은 테스트 모드에서 건너뜀")
	}

	ctx := context.Background()
	stack := newIntegrationStack(t)
	stack.docker.Logs = "Applied the fix and pushed a commit."

	user := identity.Identity{UserID: "user-e2e", Handle: "octocat"}
	logger := zaptest.NewLogger(t)

	// 1. 새 대화 생성: 게이트웨이를 통해 sandbox가 함께 준비됨
	handoff, err := chatview.StartChat(ctx, stack.repo, stack.client, user, chatview.StartChatParams{
		Prompt:  "fix the flaky scheduler test",
		RepoURL: "https://github.com/octocat/hello-world",
	}, logger)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(handoff.Chat.SnapshotID, "snap-"))
	assert.Equal(t, 1, stack.sandboxes.Count())

	// 2. handoff로 view 활성화: 에이전트 실행이 곧바로 요청됨
	view := chatview.NewView(stack.repo, stack.notifier, chatview.HubFeed(stack.hub), stack.client, user, logger)
	t.Cleanup(view.Close)
	require.NoError(t, view.Activate(ctx, handoff.Chat.ID, handoff))

	// 3. 실행 결과가 피드를 타고 view에 도착할 때까지 대기
	require.Eventually(t, func() bool {
		return len(view.Messages()) >= 3 && !view.Pending()
	}, 5*time.Second, 20*time.Millisecond)

	msgs := view.Messages()
	assert.Equal(t, storage.MessageRoleUser, msgs[0].Role)
	assert.Equal(t, "fix the flaky scheduler test", msgs[0].Content)

	var sawToolUse, sawResult bool
	for _, msg := range msgs[1:] {
		assert.Equal(t, storage.MessageRoleAssistant, msg.Role)
		if msg.IsToolUse {
			sawToolUse = true
			assert.Contains(t, msg.Content, handoff.Chat.SnapshotID)
		}
		if msg.Content == stack.docker.Logs {
			sawResult = true
		}
	}
	assert.True(t, sawToolUse, "sandbox tool 메시지가 없음")
	assert.True(t, sawResult, "에이전트 출력 메시지가 없음")

	// 4. view와 저장소가 같은 내용을 보는지 검증
	stored, err := stack.repo.ListMessages(ctx, handoff.Chat.ID)
	require.NoError(t, err)
	assert.Len(t, stored, len(msgs))

	require.Len(t, stack.docker.Started, 1)
}

// TestAPIIntegration은 게이트웨이 엔드포인트의 기본 동작을 테스트합니다.
func TestAPIIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("통합 테스트는 짧은 테스트 모드에서 건너뜀")
	}

	stack := newIntegrationStack(t)

	tests := []struct {
		name       string
		endpoint   string
		wantStatus int
	}{
		{
			name:       "헬스체크 엔드포인트",
			endpoint:   "/health",
			wantStatus: http.StatusOK,
		},
		{
			name:       "존재하지 않는 대화의 스트림",
			endpoint:   "/chats/no-such-chat/stream",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "등록되지 않은 경로",
			endpoint:   "/metrics",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(stack.gateway.URL + tt.endpoint)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

// TestSandboxLifecycleIntegration은 HTTP 경유 sandbox 생성과
// manager를 통한 정리를 테스트합니다.
func TestSandboxLifecycleIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("통합 테스트는 짧은 테스트 모드에서 건너뜀")
	}

	ctx := context.Background()
	stack := newIntegrationStack(t)

	chat := &storage.Chat{UserID: "user-sbx", Title: "sandbox chat", GitHubRepoURL: "https://github.com/octocat/spoon-knife.git"}
	require.NoError(t, stack.repo.CreateChat(ctx, chat))

	resp, err := stack.client.CreateSandbox(ctx, &taskrunner.CreateSandboxRequest{
		ChatID:             chat.ID,
		RepoURL:            chat.GitHubRepoURL,
		UserGitHubUsername: "octocat",
	})
	require.NoError(t, err)
	assert.Equal(t, taskrunner.SandboxStatusSuccess, resp.Status)
	assert.True(t, strings.HasPrefix(resp.SnapshotID, "snap-"))
	assert.Equal(t, "octocat/spoon-knife", resp.OriginalRepo)

	// snapshot ID가 대화 레코드에 기록됨
	updated, err := stack.repo.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.SnapshotID, updated.SnapshotID)

	require.Len(t, stack.docker.Created, 1)
	assert.Equal(t, "tinygen-sandbox:latest", stack.docker.Created[0].Image)

	// 정리 후에는 container가 중지/삭제되고 조회가 실패함
	require.NoError(t, stack.sandboxes.Teardown(ctx, chat.ID))
	assert.Len(t, stack.docker.Stopped, 1)
	assert.Len(t, stack.docker.Removed, 1)
	assert.Equal(t, 0, stack.sandboxes.Count())
}

// TestRunAgentRejectsUnknownChat은 존재하지 않는 대화에 대한 실행 요청이
// HTTP 경유로도 거부되는지 테스트합니다.
func TestRunAgentRejectsUnknownChat(t *testing.T) {
	if testing.Short() {
		t.Skip("통합 테스트는 짧은 테스트 모드에서 건너뜀")
	}

	stack := newIntegrationStack(t)

	_, err := stack.client.RunAgent(context.Background(), &taskrunner.RunAgentRequest{
		ChatID: "no-such-chat",
		Prompt: "do something",
	})
	require.Error(t, err)

	var apiErr *taskrunner.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}
