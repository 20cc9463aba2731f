package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tinygen-oss/app/internal/chatview"
	"github.com/tinygen-oss/app/internal/common"
	"github.com/tinygen-oss/app/internal/identity"
	"github.com/tinygen-oss/app/internal/realtime"
	taskrunner "github.com/tinygen-oss/app/internal/runner"
	"github.com/tinygen-oss/app/internal/storage"
	"go.uber.org/zap"
)

func buildChatCommands(logger *zap.Logger) *cobra.Command {
	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "대화 관리 명령어",
		Long:  "대화 생성, 조회, 메시지 전송 기능을 제공합니다.",
	}

	// chat new
	var newRepoURL string
	chatNewCmd := &cobra.Command{
		Use:   "new <prompt>",
		Short: "새 대화 생성",
		Long:  "프롬프트로 새 대화를 생성합니다. --repo 옵션으로 GitHub 저장소를 연결할 수 있습니다.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChatNew(logger, args[0], newRepoURL)
		},
	}
	chatNewCmd.Flags().StringVarP(&newRepoURL, "repo", "r", "", "연결할 GitHub 저장소 URL")

	// chat list
	chatListCmd := &cobra.Command{
		Use:   "list",
		Short: "대화 목록 조회",
		Long:  "현재 사용자의 모든 대화 목록을 최근 갱신 순으로 조회합니다.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChatList(logger)
		},
	}

	// chat view
	chatViewCmd := &cobra.Command{
		Use:   "view <chat-id>",
		Short: "대화 상세 조회",
		Long:  "특정 대화의 정보와 전체 메시지를 조회합니다.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChatView(logger, args[0])
		},
	}

	// chat send
	chatSendCmd := &cobra.Command{
		Use:   "send <chat-id> <message>",
		Short: "대화에 메시지 전송",
		Long:  "대화에 사용자 메시지를 추가하고 에이전트 실행을 요청합니다.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChatSend(logger, args[0], args[1])
		},
	}

	chatCmd.AddCommand(chatNewCmd)
	chatCmd.AddCommand(chatListCmd)
	chatCmd.AddCommand(chatViewCmd)
	chatCmd.AddCommand(chatSendCmd)

	return chatCmd
}

// identityFromEnv는 CLI 사용자 정보를 환경 변수에서 읽습니다.
func identityFromEnv() identity.Identity {
	userID := os.Getenv("TINYGEN_USER_ID")
	if userID == "" {
		userID = "local"
	}
	return identity.Identity{
		UserID: userID,
		Handle: os.Getenv("TINYGEN_GITHUB_HANDLE"),
		Email:  os.Getenv("TINYGEN_EMAIL"),
	}
}

// newRunnerClient는 설정된 backend 주소로 agent-runner 클라이언트를
// 생성합니다.
func newRunnerClient(logger *zap.Logger) (*taskrunner.Client, error) {
	if err := common.InitConfig(""); err != nil {
		return nil, fmt.Errorf("설정 초기화 실패: %w", err)
	}
	cfg := common.GetConfig()
	if cfg.Backend.BaseURL == "" {
		return nil, fmt.Errorf("TINYGEN_BACKEND_URL이 설정되지 않음")
	}
	return taskrunner.NewClient(cfg.Backend.BaseURL, taskrunner.WithLogger(logger)), nil
}

func runChatNew(logger *zap.Logger, prompt, repoURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()

	repo, cleanup, err := initStorage(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	var sandboxClient chatview.SandboxRequester
	if repoURL != "" {
		client, err := newRunnerClient(logger)
		if err != nil {
			return err
		}
		sandboxClient = client
	}

	user := identityFromEnv()
	handoff, err := chatview.StartChat(ctx, repo, sandboxClient, user, chatview.StartChatParams{
		Prompt:  prompt,
		RepoURL: repoURL,
	}, logger)
	if err != nil {
		return fmt.Errorf("대화 생성 실패: %w", err)
	}

	fmt.Printf("✓ 대화 '%s' 생성 완료 (제목: %s)\n", handoff.Chat.ID, handoff.Chat.Title)
	if handoff.Chat.SnapshotID != "" {
		fmt.Printf("  연결된 sandbox: %s\n", handoff.Chat.SnapshotID)
	}
	return nil
}

func runChatList(logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()

	repo, cleanup, err := initStorage(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	user := identityFromEnv()
	chats, err := repo.ListChatsByUser(ctx, user.UserID)
	if err != nil {
		return fmt.Errorf("대화 목록 조회 실패: %w", err)
	}

	if len(chats) == 0 {
		fmt.Println("생성된 대화가 없습니다.")
		return nil
	}

	// 테이블 형식 출력
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CHAT ID\tTITLE\tREPO\tUPDATED")
	_, _ = fmt.Fprintln(w, "-------\t-----\t----\t-------")

	for _, chat := range chats {
		repoCol := chat.GitHubRepoURL
		if repoCol == "" {
			repoCol = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			chat.ID,
			truncateString(chat.Title, 40),
			repoCol,
			chat.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()

	return nil
}

func runChatView(logger *zap.Logger, chatID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()

	repo, cleanup, err := initStorage(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	user := identityFromEnv()
	chat, err := repo.GetChatForUser(ctx, chatID, user.UserID)
	if err != nil {
		return fmt.Errorf("대화 조회 실패: %w", err)
	}

	messages, err := repo.ListMessages(ctx, chatID)
	if err != nil {
		return fmt.Errorf("메시지 조회 실패: %w", err)
	}

	fmt.Printf("=== 대화: %s ===\n\n", chat.Title)
	fmt.Printf("Chat ID:   %s\n", chat.ID)
	if chat.GitHubRepoURL != "" {
		fmt.Printf("저장소:    %s\n", chat.GitHubRepoURL)
	}
	if chat.SnapshotID != "" {
		fmt.Printf("Sandbox:   %s\n", chat.SnapshotID)
	}
	fmt.Printf("생성:      %s\n", chat.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("메시지:    %d건\n\n", len(messages))

	for _, msg := range messages {
		marker := msg.Role
		if msg.IsToolUse {
			marker = msg.Role + " (tool)"
			if meta, err := storage.DecodeMetadata(msg.Metadata); err == nil {
				if toolData, ok := meta["tool_data"].(map[string]interface{}); ok {
					if name, ok := toolData["tool"].(string); ok && name != "" {
						marker = fmt.Sprintf("%s (tool: %s)", msg.Role, name)
					}
				}
			}
		}
		fmt.Printf("[%s] %s\n%s\n\n",
			msg.CreatedAt.Format("15:04:05"),
			marker,
			msg.Content,
		)
	}

	return nil
}

func runChatSend(logger *zap.Logger, chatID, message string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()

	repo, cleanup, err := initStorage(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	client, err := newRunnerClient(logger)
	if err != nil {
		return err
	}

	hub := realtime.NewHub(logger)
	defer hub.Close()
	notifier := realtime.NewNotifier(repo, hub, logger)

	user := identityFromEnv()
	view := chatview.NewView(repo, notifier, chatview.HubFeed(hub), client, user, logger)
	defer view.Close()

	if err := view.Activate(ctx, chatID, nil); err != nil {
		return fmt.Errorf("대화 활성화 실패: %w", err)
	}
	if err := view.Submit(ctx, message); err != nil {
		return fmt.Errorf("메시지 전송 실패: %w", err)
	}

	fmt.Printf("✓ 메시지 전송 완료 (Chat: %s)\n", chatID)
	if view.Pending() {
		fmt.Println("  에이전트 실행이 요청되었습니다. 응답은 메시지 피드로 도착합니다.")
	}
	return nil
}

// truncateString은 문자열을 최대 rune 수로 자릅니다. 멀티바이트 문자를
// 중간에서 자르지 않습니다.
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
