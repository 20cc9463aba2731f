package taskrunner

import (
	"errors"
	"fmt"
)

// 기본 에러 타입
var (
	// 요청 검증 에러
	ErrChatIDRequired = errors.New("chat_id가 필요함")
	ErrHandleRequired = errors.New("GitHub 핸들이 필요함")

	// 응답 상태 에러
	ErrAgentRejected = errors.New("에이전트 실행이 거부됨")
	ErrSandboxFailed = errors.New("샌드박스 생성 실패")
)

// RunnerError는 agent-runner 호출 에러를 래핑합니다.
type RunnerError struct {
	Op     string // 작업명 (예: "RunAgent", "CreateSandbox")
	ChatID string // 대화 ID
	Err    error  // 원본 에러
}

func (e *RunnerError) Error() string {
	if e.ChatID != "" {
		return fmt.Sprintf("runner[%s] %s: %v", e.ChatID, e.Op, e.Err)
	}
	return fmt.Sprintf("runner %s: %v", e.Op, e.Err)
}

func (e *RunnerError) Unwrap() error {
	return e.Err
}

// NewRunnerError는 새 RunnerError를 생성합니다.
func NewRunnerError(op, chatID string, err error) *RunnerError {
	return &RunnerError{
		Op:     op,
		ChatID: chatID,
		Err:    err,
	}
}
