package chatview

import "errors"

// 기본 에러 타입
var (
	// ErrChatNotFound는 대화가 없거나 다른 사용자 소유일 때 반환됩니다.
	// 호출자는 이 에러를 받으면 대화 화면에서 벗어나야 합니다.
	ErrChatNotFound = errors.New("대화를 찾을 수 없음")

	// ErrViewClosed는 닫힌 뷰에 대한 호출을 나타냅니다.
	ErrViewClosed = errors.New("뷰가 이미 닫힘")

	// ErrNoActiveChat은 활성화된 대화 없이 Submit이 호출되었음을 나타냅니다.
	ErrNoActiveChat = errors.New("활성화된 대화가 없음")
)
