package chatview

import (
	"context"
	"fmt"
	"strings"

	"github.com/tinygen-oss/app/internal/identity"
	taskrunner "github.com/tinygen-oss/app/internal/runner"
	"github.com/tinygen-oss/app/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// maxTitleRunes는 프롬프트에서 파생한 제목의 최대 길이입니다.
const maxTitleRunes = 60

// Handoff는 생성 화면에서 대화 화면으로 전달되는 데이터입니다.
// 대화 화면은 이 데이터로 첫 로드를 생략하고 곧바로 에이전트를
// 호출합니다.
type Handoff struct {
	Chat    storage.Chat
	Initial storage.Message
}

// SandboxRequester는 대화에 연결할 샌드박스 생성을 요청합니다.
type SandboxRequester interface {
	CreateSandbox(ctx context.Context, req *taskrunner.CreateSandboxRequest) (*taskrunner.CreateSandboxResponse, error)
}

// StartChatParams는 새 대화 생성 입력입니다.
type StartChatParams struct {
	// Prompt는 첫 사용자 메시지입니다. 제목도 여기서 파생됩니다.
	Prompt string

	// RepoURL이 있으면 샌드박스 생성을 함께 요청합니다.
	RepoURL string
}

// StartChat은 새 대화를 생성합니다. 대화 행과 첫 사용자 메시지를
// 저장하고, 저장소 URL이 있으면 샌드박스를 요청해 스냅샷 ID를 대화에
// 기록합니다. 반환된 Handoff를 View.Activate에 넘기면 중복 로드 없이
// 대화가 시작됩니다.
func StartChat(ctx context.Context, repo *storage.Repository, sandbox SandboxRequester, user identity.Identity, params StartChatParams, logger *zap.Logger) (*Handoff, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	prompt := strings.TrimSpace(params.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("chatview: prompt is empty")
	}

	chat := &storage.Chat{
		UserID:        user.UserID,
		Title:         deriveTitle(prompt),
		GitHubRepoURL: params.RepoURL,
	}
	if err := repo.CreateChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("chatview: create chat: %w", err)
	}

	if params.RepoURL != "" && sandbox != nil {
		resp, err := sandbox.CreateSandbox(ctx, &taskrunner.CreateSandboxRequest{
			ChatID:             chat.ID,
			RepoURL:            params.RepoURL,
			UserGitHubUsername: user.DisplayHandle(),
		})
		if err != nil {
			return nil, fmt.Errorf("chatview: create sandbox: %w", err)
		}
		if err := repo.UpdateChatSnapshot(ctx, chat.ID, resp.SnapshotID); err != nil {
			return nil, fmt.Errorf("chatview: record snapshot: %w", err)
		}
		chat.SnapshotID = resp.SnapshotID

		logger.Info("sandbox attached",
			zap.String("chat_id", chat.ID),
			zap.String("snapshot_id", resp.SnapshotID),
		)
	}

	initial := &storage.Message{
		ChatID:  chat.ID,
		Role:    storage.MessageRoleUser,
		Content: prompt,
	}
	if err := repo.CreateMessage(ctx, initial); err != nil {
		return nil, fmt.Errorf("chatview: create first message: %w", err)
	}

	logger.Info("chat started",
		zap.String("chat_id", chat.ID),
		zap.String("user_id", user.UserID),
		zap.Bool("with_repo", params.RepoURL != ""),
	)

	return &Handoff{Chat: *chat, Initial: *initial}, nil
}

// deriveTitle은 프롬프트에서 대화 제목을 만듭니다.
// NFC 정규화 후 rune 단위로 자르므로 멀티바이트 문자 중간이 잘리지
// 않습니다.
func deriveTitle(prompt string) string {
	title := norm.NFC.String(strings.TrimSpace(prompt))
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		title = string(runes[:maxTitleRunes])
	}
	return title
}
