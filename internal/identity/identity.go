// Package identity는 대화 소유자를 나타내는 사용자 정보를 정의합니다.
package identity

import "strings"

// Identity는 인증 계층에서 전달받은 사용자 정보입니다.
// 게이트웨이는 토큰 검증 후 이 구조체를 채워서 전달합니다.
type Identity struct {
	// UserID는 사용자의 고유 식별자입니다.
	UserID string `json:"user_id"`

	// Handle은 GitHub 핸들입니다. 연결되지 않은 경우 비어 있을 수 있습니다.
	Handle string `json:"handle,omitempty"`

	// Email은 사용자의 이메일 주소입니다.
	Email string `json:"email,omitempty"`

	// AvatarURL은 프로필 이미지 주소입니다.
	AvatarURL string `json:"avatar_url,omitempty"`
}

// DisplayHandle은 화면에 표시할 사용자 이름을 반환합니다.
// 핸들이 없으면 이메일의 로컬 파트를, 둘 다 없으면 "unknown"을 사용합니다.
func (id Identity) DisplayHandle() string {
	if id.Handle != "" {
		return id.Handle
	}
	if id.Email != "" {
		local, _, found := strings.Cut(id.Email, "@")
		if found && local != "" {
			return local
		}
		return id.Email
	}
	return "unknown"
}
