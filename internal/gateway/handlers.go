package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	taskrunner "github.com/tinygen-oss/app/internal/runner"
	"github.com/tinygen-oss/app/internal/sandbox"
	"github.com/tinygen-oss/app/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// writeJSON은 JSON 응답을 기록합니다.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// handleHealth는 GET /health를 처리합니다.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateSandbox는 POST /create-sandbox를 처리합니다.
// 대화에 sandbox를 붙이고 스냅샷 ID를 대화 행에 기록합니다.
func (s *Server) handleCreateSandbox(w http.ResponseWriter, r *http.Request) {
	var req taskrunner.CreateSandboxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, taskrunner.CreateSandboxResponse{
			Status: taskrunner.StatusError,
			Error:  "invalid request body",
		})
		return
	}

	ctx := r.Context()
	if _, err := s.repo().GetChat(ctx, req.ChatID); err != nil {
		status := http.StatusInternalServerError
		msg := "failed to load chat"
		if errors.Is(err, gorm.ErrRecordNotFound) {
			status = http.StatusNotFound
			msg = "chat not found"
		}
		writeJSON(w, status, taskrunner.CreateSandboxResponse{
			Status: taskrunner.StatusError,
			Error:  msg,
		})
		return
	}

	sb, err := s.sandboxes.Provision(ctx, sandbox.ProvisionParams{
		ChatID:             req.ChatID,
		RepoURL:            req.RepoURL,
		UserGitHubUsername: req.UserGitHubUsername,
	})
	if err != nil {
		s.logger.Error("Failed to provision sandbox",
			zap.String("chat_id", req.ChatID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusOK, taskrunner.CreateSandboxResponse{
			Status: taskrunner.StatusError,
			Error:  err.Error(),
		})
		return
	}

	if err := s.repo().UpdateChatSnapshot(ctx, req.ChatID, sb.SnapshotID); err != nil {
		s.logger.Error("Failed to record snapshot on chat",
			zap.String("chat_id", req.ChatID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusOK, taskrunner.CreateSandboxResponse{
			Status: taskrunner.StatusError,
			Error:  "failed to record snapshot",
		})
		return
	}

	writeJSON(w, http.StatusOK, taskrunner.CreateSandboxResponse{
		Status:       taskrunner.SandboxStatusSuccess,
		SnapshotID:   sb.SnapshotID,
		OriginalRepo: repoSlug(req.RepoURL),
	})
}

// handleRunAgent는 POST /run-claude-agent를 처리합니다.
// 수락하면 즉시 {status: started}로 응답하고 실행은 goroutine에서
// 진행합니다. 같은 대화의 중복 실행은 거부합니다.
func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	var req taskrunner.RunAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, taskrunner.RunAgentResponse{
			Status: taskrunner.StatusError,
			Error:  "invalid request body",
		})
		return
	}
	if req.ChatID == "" || req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, taskrunner.RunAgentResponse{
			Status: taskrunner.StatusError,
			Error:  "chat_id and prompt are required",
		})
		return
	}

	chat, err := s.repo().GetChat(r.Context(), req.ChatID)
	if err != nil {
		status := http.StatusInternalServerError
		msg := "failed to load chat"
		if errors.Is(err, gorm.ErrRecordNotFound) {
			status = http.StatusNotFound
			msg = "chat not found"
		}
		writeJSON(w, status, taskrunner.RunAgentResponse{
			Status: taskrunner.StatusError,
			Error:  msg,
		})
		return
	}

	if !s.beginRun(req.ChatID, chat, req) {
		writeJSON(w, http.StatusOK, taskrunner.RunAgentResponse{
			Status: taskrunner.StatusError,
			Error:  "a run is already in progress for this chat",
		})
		return
	}

	writeJSON(w, http.StatusOK, taskrunner.RunAgentResponse{Status: taskrunner.RunStatusStarted})
}

// beginRun은 대화별 실행 컨텍스트를 등록하고 실행 goroutine을 띄웁니다.
// 이미 실행 중이면 false를 반환합니다.
func (s *Server) beginRun(chatID string, chat *storage.Chat, req taskrunner.RunAgentRequest) bool {
	s.runsMutex.Lock()
	if _, running := s.activeRuns[chatID]; running {
		s.runsMutex.Unlock()
		return false
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.activeRuns[chatID] = &runHandle{cancel: cancel}
	s.runsWG.Add(1)
	s.runsMutex.Unlock()

	params := RunParams{
		ChatID:             chatID,
		RepoURL:            chat.GitHubRepoURL,
		UserGitHubUsername: req.UserGitHubUsername,
		Prompt:             req.Prompt,
		SnapshotID:         chat.SnapshotID,
	}
	if params.RepoURL == "" {
		params.RepoURL = req.RepoURL
	}

	go s.executeRun(runCtx, cancel, params)
	return true
}

// executeRun은 에이전트 실행을 수행하고 종료 시 실행 컨텍스트를
// 정리합니다. 실패는 assistant 메시지로 대화에 남깁니다.
func (s *Server) executeRun(ctx context.Context, cancel context.CancelFunc, params RunParams) {
	defer s.runsWG.Done()
	defer cancel()
	defer func() {
		s.runsMutex.Lock()
		delete(s.activeRuns, params.ChatID)
		s.runsMutex.Unlock()
	}()

	s.logger.Info("Agent run started",
		zap.String("chat_id", params.ChatID),
		zap.String("repo_url", params.RepoURL),
	)

	if err := s.engine.Execute(ctx, params, s.notifier); err != nil {
		s.logger.Error("Agent run failed",
			zap.String("chat_id", params.ChatID),
			zap.Error(err),
		)

		failure := &storage.Message{
			ChatID:  params.ChatID,
			Role:    storage.MessageRoleAssistant,
			Content: "Error: " + err.Error(),
		}
		if werr := s.notifier.CreateMessage(ctx, failure); werr != nil {
			s.logger.Error("Failed to record run failure",
				zap.String("chat_id", params.ChatID),
				zap.Error(werr),
			)
		}
		return
	}

	s.logger.Info("Agent run completed", zap.String("chat_id", params.ChatID))
}

// githubInstallation은 GitHub installations API 응답입니다.
type githubInstallation struct {
	ID int64 `json:"id"`
}

// handleCheckGitHubApp은 GET /check-github-app/{handle}을 처리합니다.
// GitHub API에 해당 사용자의 App installation이 있는지 조회합니다.
func (s *Server) handleCheckGitHubApp(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	if handle == "" {
		http.Error(w, "handle is required", http.StatusBadRequest)
		return
	}

	apiURL := fmt.Sprintf("%s/users/%s/installation",
		strings.TrimSuffix(s.config.GitHub.APIBaseURL, "/"),
		url.PathEscape(handle),
	)
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, apiURL, nil)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if s.config.GitHub.AppToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.GitHub.AppToken)
	}

	resp, err := s.github.Do(req)
	if err != nil {
		s.logger.Error("GitHub API request failed",
			zap.String("handle", handle),
			zap.Error(err),
		)
		http.Error(w, "github api unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var installation githubInstallation
		if err := json.NewDecoder(resp.Body).Decode(&installation); err != nil {
			http.Error(w, "invalid github api response", http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, taskrunner.CheckGitHubAppResponse{
			Installed:      true,
			InstallationID: installation.ID,
		})
	case resp.StatusCode == http.StatusNotFound:
		writeJSON(w, http.StatusOK, taskrunner.CheckGitHubAppResponse{Installed: false})
	default:
		s.logger.Warn("Unexpected GitHub API status",
			zap.String("handle", handle),
			zap.Int("status", resp.StatusCode),
		)
		http.Error(w, "github api error", http.StatusBadGateway)
	}
}

// streamSnapshot은 SSE 스트림의 첫 이벤트입니다.
type streamSnapshot struct {
	Chat     storage.Chat      `json:"chat"`
	Messages []storage.Message `json:"messages"`
}

// streamInsert는 이후 각 삽입 이벤트입니다.
type streamInsert struct {
	Message storage.Message `json:"message"`
}

// handleStream은 GET /chats/{id}/stream을 처리합니다.
// 현재 메시지 스냅샷을 먼저 보내고 이후 피드 이벤트를 전달합니다.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")

	ctx := r.Context()
	chat, err := s.repo().GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "chat not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// 스냅샷을 읽기 전에 구독해 그 사이 삽입을 놓치지 않도록 함.
	// 겹치는 이벤트는 수신 측의 ID 중복 제거가 걸러냄.
	sub := s.notifier.Hub().Subscribe(chatID)
	defer sub.Close()

	messages, err := s.repo().ListMessages(ctx, chatID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	data, _ := json.Marshal(streamSnapshot{Chat: *chat, Messages: messages})
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			data, _ := json.Marshal(streamInsert{Message: ev.Message})
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// repoSlug는 저장소 URL에서 owner/name을 추출합니다.
func repoSlug(repoURL string) string {
	u, err := url.Parse(repoURL)
	if err != nil {
		return ""
	}
	return strings.Trim(strings.TrimSuffix(u.Path, ".git"), "/")
}
