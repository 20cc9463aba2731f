package storage

import "time"

// Chat은 chats 테이블 레코드를 나타냅니다.
// 한 사용자가 소유하는 대화 스레드이며, 선택적으로 GitHub 저장소가 연결됩니다.
type Chat struct {
	ID            string    `gorm:"column:id;type:varchar(64);primaryKey"`
	UserID        string    `gorm:"column:user_id;type:varchar(64);not null;index:idx_chats_user_id"`
	Title         string    `gorm:"column:title;type:text;not null"`
	GitHubRepoURL string    `gorm:"column:github_repo_url;type:text"`
	SnapshotID    string    `gorm:"column:snapshot_id;type:varchar(64)"`
	CreatedAt     time.Time `gorm:"column:created_at;not null;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (Chat) TableName() string {
	return "chats"
}

// Message는 messages 테이블 레코드를 나타냅니다.
// 생성 이후 변경되지 않으며, 대화 내에서 created_at 오름차순으로 정렬됩니다.
type Message struct {
	ID        string    `gorm:"column:id;type:varchar(64);primaryKey"`
	ChatID    string    `gorm:"column:chat_id;type:varchar(64);not null;index:idx_messages_chat_id"`
	Role      string    `gorm:"column:role;type:varchar(32);not null"`
	Content   string    `gorm:"column:content;type:text;not null"`
	IsToolUse bool      `gorm:"column:is_tool_use;not null;default:false"`
	Metadata  string    `gorm:"column:metadata;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (Message) TableName() string {
	return "messages"
}
