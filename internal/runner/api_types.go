package taskrunner

import "fmt"

// agent-runner 응답 상태값입니다.
const (
	// RunStatusStarted는 에이전트 실행이 수락되었음을 나타냅니다.
	RunStatusStarted = "started"

	// SandboxStatusSuccess는 샌드박스 생성 성공을 나타냅니다.
	SandboxStatusSuccess = "success"

	// StatusError는 요청 실패를 나타냅니다.
	StatusError = "error"
)

// RunAgentRequest는 에이전트 실행 요청입니다.
type RunAgentRequest struct {
	ChatID             string `json:"chat_id"`
	RepoURL            string `json:"github_repo_url,omitempty"`
	UserGitHubUsername string `json:"user_github_username,omitempty"`
	Prompt             string `json:"prompt"`
}

// RunAgentResponse는 에이전트 실행 응답입니다.
// Status가 "started"면 수락, "error"면 Error에 사유가 담깁니다.
type RunAgentResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// CreateSandboxRequest는 샌드박스 생성 요청입니다.
type CreateSandboxRequest struct {
	ChatID             string `json:"chat_id"`
	RepoURL            string `json:"github_repo_url"`
	UserGitHubUsername string `json:"user_github_username,omitempty"`
}

// CreateSandboxResponse는 샌드박스 생성 응답입니다.
type CreateSandboxResponse struct {
	Status       string `json:"status"`
	SnapshotID   string `json:"snapshot_id,omitempty"`
	ForkURL      string `json:"fork_url,omitempty"`
	OriginalRepo string `json:"original_repo,omitempty"`
	Error        string `json:"error,omitempty"`
}

// CheckGitHubAppResponse는 GitHub App 설치 확인 응답입니다.
type CheckGitHubAppResponse struct {
	Installed      bool  `json:"installed"`
	InstallationID int64 `json:"installation_id,omitempty"`
}

// APIError는 4xx/5xx HTTP 응답을 나타냅니다.
type APIError struct {
	StatusCode int    // HTTP 상태 코드
	Message    string // 에러 메시지
	Body       string // 원본 응답 바디
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API 에러 [%d]: %s", e.StatusCode, e.Message)
}
