package sandbox

import (
	"errors"
	"fmt"
)

// 기본 에러 타입
var (
	ErrDockerUnavailable = errors.New("Docker daemon에 연결할 수 없음")
	ErrSandboxExists     = errors.New("sandbox가 이미 존재함")
	ErrSandboxNotFound   = errors.New("sandbox를 찾을 수 없음")
	ErrRepoURLRequired   = errors.New("저장소 URL이 필요함")
)

// SandboxError는 sandbox 관련 에러를 래핑합니다.
type SandboxError struct {
	Op     string // 작업명 (예: "Provision", "Teardown")
	ChatID string // 대화 ID
	Err    error  // 원본 에러
}

func (e *SandboxError) Error() string {
	if e.ChatID != "" {
		return fmt.Sprintf("sandbox[%s] %s: %v", e.ChatID, e.Op, e.Err)
	}
	return fmt.Sprintf("sandbox %s: %v", e.Op, e.Err)
}

func (e *SandboxError) Unwrap() error {
	return e.Err
}

// NewSandboxError는 새 SandboxError를 생성합니다.
func NewSandboxError(op, chatID string, err error) *SandboxError {
	return &SandboxError{
		Op:     op,
		ChatID: chatID,
		Err:    err,
	}
}
