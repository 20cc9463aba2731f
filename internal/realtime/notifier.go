package realtime

import (
	"context"

	"github.com/tinygen-oss/app/internal/storage"
	"go.uber.org/zap"
)

// Notifier는 메시지 영속화와 피드 발행을 묶습니다.
// 모든 메시지 삽입이 이 경로를 거치면 구독자는 새 행을 놓치지 않습니다.
type Notifier struct {
	repo   *storage.Repository
	hub    *Hub
	logger *zap.Logger
}

// NewNotifier는 repository와 hub를 묶는 Notifier를 생성합니다.
func NewNotifier(repo *storage.Repository, hub *Hub, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		repo:   repo,
		hub:    hub,
		logger: logger,
	}
}

// Repository는 내부 repository 참조를 반환합니다.
func (n *Notifier) Repository() *storage.Repository {
	return n.repo
}

// Hub는 내부 hub 참조를 반환합니다.
func (n *Notifier) Hub() *Hub {
	return n.hub
}

// CreateMessage는 메시지를 저장한 뒤 삽입 이벤트를 발행합니다.
// 저장이 실패하면 이벤트는 발행되지 않습니다.
func (n *Notifier) CreateMessage(ctx context.Context, msg *storage.Message) error {
	if err := n.repo.CreateMessage(ctx, msg); err != nil {
		return err
	}

	n.hub.Publish(Event{
		Kind:    EventInserted,
		Message: *msg,
	})

	n.logger.Debug("message persisted and published",
		zap.String("chat_id", msg.ChatID),
		zap.String("message_id", msg.ID),
		zap.String("role", msg.Role),
	)
	return nil
}
