package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository는 TinyGen 도메인 객체를 위한 영속성 헬퍼를 제공합니다.
type Repository struct {
	db *gorm.DB
}

// NewRepository는 전달된 gorm DB를 이용해 Repository를 생성합니다.
func NewRepository(db *gorm.DB) (*Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("storage: repository requires a non-nil db handle")
	}
	return &Repository{db: db}, nil
}

// DB는 내부 gorm DB 참조를 반환합니다.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// CreateChat은 새로운 대화 레코드를 저장합니다.
// ID가 비어있으면 UUID를 생성하고, UpdatedAt은 CreatedAt과 동일하게 초기화됩니다.
func (r *Repository) CreateChat(ctx context.Context, chat *Chat) error {
	if chat == nil {
		return fmt.Errorf("storage: nil chat payload")
	}
	if chat.UserID == "" {
		return fmt.Errorf("storage: empty userID")
	}
	if chat.ID == "" {
		chat.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	if chat.UpdatedAt.IsZero() {
		chat.UpdatedAt = chat.CreatedAt
	}
	return r.db.WithContext(ctx).Create(chat).Error
}

// GetChat은 식별자로 대화를 조회합니다. 소유자 검사를 하지 않습니다.
func (r *Repository) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	if chatID == "" {
		return nil, fmt.Errorf("storage: empty chatID")
	}
	var chat Chat
	if err := r.db.WithContext(ctx).
		Where("id = ?", chatID).
		First(&chat).Error; err != nil {
		return nil, err
	}
	return &chat, nil
}

// GetChatForUser는 소유자 검사와 함께 대화를 조회합니다.
// 다른 사용자의 대화는 gorm.ErrRecordNotFound로 처리됩니다 (row-level 접근 제어와 동일한 의미).
func (r *Repository) GetChatForUser(ctx context.Context, chatID, userID string) (*Chat, error) {
	if chatID == "" {
		return nil, fmt.Errorf("storage: empty chatID")
	}
	if userID == "" {
		return nil, fmt.Errorf("storage: empty userID")
	}
	var chat Chat
	if err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", chatID, userID).
		First(&chat).Error; err != nil {
		return nil, err
	}
	return &chat, nil
}

// ListChatsByUser는 사용자의 대화 목록을 updated_at 내림차순으로 반환합니다.
func (r *Repository) ListChatsByUser(ctx context.Context, userID string) ([]Chat, error) {
	if userID == "" {
		return nil, fmt.Errorf("storage: empty userID")
	}
	var chats []Chat
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&chats).Error; err != nil {
		return nil, err
	}
	return chats, nil
}

// UpdateChatTitle은 대화 제목을 변경하고 updated_at을 갱신합니다.
func (r *Repository) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	if chatID == "" {
		return fmt.Errorf("storage: empty chatID")
	}
	return r.db.WithContext(ctx).
		Model(&Chat{}).
		Where("id = ?", chatID).
		Updates(map[string]interface{}{
			"title":      title,
			"updated_at": time.Now().UTC(),
		}).Error
}

// UpdateChatSnapshot은 create-sandbox 결과의 snapshot ID를 대화에 기록합니다.
func (r *Repository) UpdateChatSnapshot(ctx context.Context, chatID, snapshotID string) error {
	if chatID == "" {
		return fmt.Errorf("storage: empty chatID")
	}
	return r.db.WithContext(ctx).
		Model(&Chat{}).
		Where("id = ?", chatID).
		Updates(map[string]interface{}{
			"snapshot_id": snapshotID,
			"updated_at":  time.Now().UTC(),
		}).Error
}

// TouchChat은 대화의 updated_at을 앞으로만 이동시킵니다 (단조 비감소).
func (r *Repository) TouchChat(ctx context.Context, chatID string, at time.Time) error {
	if chatID == "" {
		return fmt.Errorf("storage: empty chatID")
	}
	return r.db.WithContext(ctx).
		Model(&Chat{}).
		Where("id = ? AND updated_at < ?", chatID, at).
		Update("updated_at", at).Error
}

// CreateMessage는 메시지를 추가하고 같은 트랜잭션에서 대화의 updated_at을 갱신합니다.
// 존재하지 않는 대화에 대한 메시지 삽입은 거부됩니다.
func (r *Repository) CreateMessage(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("storage: nil message payload")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("storage: empty chatID")
	}
	if msg.Role == "" {
		return fmt.Errorf("storage: empty role")
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Metadata == "" {
		msg.Metadata = "{}"
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat Chat
		if err := tx.Where("id = ?", msg.ChatID).First(&chat).Error; err != nil {
			return fmt.Errorf("storage: chat lookup failed: %w", err)
		}
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		// updated_at은 뒤로 이동하지 않음. 동시 삽입이 교차해도 뒤로 가지 않도록
		// 비교를 WHERE 절로 내려 DB에서 판정합니다.
		return tx.Model(&Chat{}).
			Where("id = ? AND updated_at < ?", msg.ChatID, msg.CreatedAt).
			Update("updated_at", msg.CreatedAt).Error
	})
}

// GetMessage는 메시지 식별자로 레코드를 조회합니다.
func (r *Repository) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	if messageID == "" {
		return nil, fmt.Errorf("storage: empty messageID")
	}
	var msg Message
	if err := r.db.WithContext(ctx).
		Where("id = ?", messageID).
		First(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessages는 대화의 메시지를 created_at 오름차순으로 반환합니다.
// 동일 시각 메시지는 id 오름차순으로 정렬됩니다.
func (r *Repository) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	if chatID == "" {
		return nil, fmt.Errorf("storage: empty chatID")
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// CountMessages는 대화의 메시지 수를 반환합니다.
func (r *Repository) CountMessages(ctx context.Context, chatID string) (int64, error) {
	if chatID == "" {
		return 0, fmt.Errorf("storage: empty chatID")
	}
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&Message{}).
		Where("chat_id = ?", chatID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// EncodeMetadata는 메시지 metadata 맵을 JSON 문자열로 직렬화합니다.
func EncodeMetadata(metadata map[string]interface{}) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("storage: metadata 직렬화 실패: %w", err)
	}
	return string(data), nil
}

// DecodeMetadata는 JSON 문자열을 metadata 맵으로 역직렬화합니다.
func DecodeMetadata(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var metadata map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, fmt.Errorf("storage: metadata 파싱 실패: %w", err)
	}
	return metadata, nil
}
