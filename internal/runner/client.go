package taskrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client는 agent-runner 백엔드 REST API 클라이언트입니다.
// 모든 호출은 단발성이며 재시도하지 않습니다.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// ClientOption은 Client 옵션입니다.
type ClientOption func(*Client)

// WithHTTPClient는 HTTP 클라이언트를 설정합니다.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger는 로거를 설정합니다.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTimeout은 요청 타임아웃을 설정합니다.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient는 새 agent-runner API 클라이언트를 생성합니다.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// RunAgent는 에이전트 실행을 요청합니다.
// 수락 응답(status=started)만 확인하고 즉시 반환하며, 실제 실행 결과는
// 메시지 피드로 도착합니다.
func (c *Client) RunAgent(ctx context.Context, req *RunAgentRequest) (*RunAgentResponse, error) {
	if req.ChatID == "" {
		return nil, NewRunnerError("RunAgent", "", ErrChatIDRequired)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/run-claude-agent", req)
	if err != nil {
		return nil, NewRunnerError("RunAgent", req.ChatID, err)
	}
	defer resp.Body.Close()

	var result RunAgentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, NewRunnerError("RunAgent", req.ChatID, fmt.Errorf("응답 파싱 실패: %w", err))
	}

	if result.Status != RunStatusStarted {
		c.logger.Warn("agent run rejected",
			zap.String("chat_id", req.ChatID),
			zap.String("status", result.Status),
			zap.String("error", result.Error),
		)
		return &result, NewRunnerError("RunAgent", req.ChatID, fmt.Errorf("%w: %s", ErrAgentRejected, result.Error))
	}

	c.logger.Info("agent run accepted",
		zap.String("chat_id", req.ChatID),
		zap.String("repo_url", req.RepoURL),
	)

	return &result, nil
}

// CreateSandbox는 대화에 연결할 샌드박스 생성을 요청합니다.
func (c *Client) CreateSandbox(ctx context.Context, req *CreateSandboxRequest) (*CreateSandboxResponse, error) {
	if req.ChatID == "" {
		return nil, NewRunnerError("CreateSandbox", "", ErrChatIDRequired)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/create-sandbox", req)
	if err != nil {
		return nil, NewRunnerError("CreateSandbox", req.ChatID, err)
	}
	defer resp.Body.Close()

	var result CreateSandboxResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, NewRunnerError("CreateSandbox", req.ChatID, fmt.Errorf("응답 파싱 실패: %w", err))
	}

	if result.Status != SandboxStatusSuccess {
		return &result, NewRunnerError("CreateSandbox", req.ChatID, fmt.Errorf("%w: %s", ErrSandboxFailed, result.Error))
	}

	c.logger.Info("sandbox created",
		zap.String("chat_id", req.ChatID),
		zap.String("snapshot_id", result.SnapshotID),
		zap.String("fork_url", result.ForkURL),
	)

	return &result, nil
}

// CheckGitHubApp은 핸들의 GitHub App 설치 여부를 조회합니다.
func (c *Client) CheckGitHubApp(ctx context.Context, handle string) (*CheckGitHubAppResponse, error) {
	if handle == "" {
		return nil, NewRunnerError("CheckGitHubApp", "", ErrHandleRequired)
	}

	resp, err := c.doRequest(ctx, http.MethodGet, "/check-github-app/"+url.PathEscape(handle), nil)
	if err != nil {
		return nil, NewRunnerError("CheckGitHubApp", "", err)
	}
	defer resp.Body.Close()

	var result CheckGitHubAppResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, NewRunnerError("CheckGitHubApp", "", fmt.Errorf("응답 파싱 실패: %w", err))
	}

	return &result, nil
}

// doRequest는 HTTP 요청을 수행합니다.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("요청 바디 직렬화 실패: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("요청 생성 실패: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("요청 실패: %w", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, c.handleErrorResponse(resp)
	}

	return resp, nil
}

// handleErrorResponse는 에러 응답을 처리합니다.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var apiBody struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &apiBody); err == nil && apiBody.Error != "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    apiBody.Error,
			Body:       string(body),
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("HTTP 에러 [%d]", resp.StatusCode),
		Body:       string(body),
	}
}
