package realtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinygen-oss/app/internal/realtime"
	"github.com/tinygen-oss/app/internal/storage"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func insertedEvent(chatID, messageID, role string) realtime.Event {
	return realtime.Event{
		Kind: realtime.EventInserted,
		Message: storage.Message{
			ID:      messageID,
			ChatID:  chatID,
			Role:    role,
			Content: "content-" + messageID,
		},
	}
}

func TestHubDeliversToScopedSubscriber(t *testing.T) {
	hub := realtime.NewHub(zaptest.NewLogger(t))
	defer hub.Close()

	sub := hub.Subscribe("chat-1")
	defer sub.Close()

	hub.Publish(insertedEvent("chat-1", "m1", storage.MessageRoleAssistant))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, realtime.EventInserted, ev.Kind)
		assert.Equal(t, "m1", ev.Message.ID)
	case <-time.After(time.Second):
		t.Fatal("expected event was not delivered")
	}
}

func TestHubFiltersByChatID(t *testing.T) {
	hub := realtime.NewHub(zaptest.NewLogger(t))
	defer hub.Close()

	sub := hub.Subscribe("chat-1")
	defer sub.Close()

	// 다른 대화의 이벤트는 전달되지 않음
	hub.Publish(insertedEvent("chat-2", "m1", storage.MessageRoleAssistant))

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event for foreign chat: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubFanOut(t *testing.T) {
	hub := realtime.NewHub(zaptest.NewLogger(t))
	defer hub.Close()

	subA := hub.Subscribe("chat-1")
	defer subA.Close()
	subB := hub.Subscribe("chat-1")
	defer subB.Close()

	require.Equal(t, 2, hub.SubscriberCount("chat-1"))

	hub.Publish(insertedEvent("chat-1", "m1", storage.MessageRoleAssistant))

	for _, sub := range []*realtime.Subscription{subA, subB} {
		select {
		case ev := <-sub.Events():
			assert.Equal(t, "m1", ev.Message.ID)
		case <-time.After(time.Second):
			t.Fatal("fan-out delivery missing")
		}
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	hub := realtime.NewHub(zaptest.NewLogger(t))
	defer hub.Close()

	sub := hub.Subscribe("chat-1")
	sub.Close()
	sub.Close() // 두 번째 호출은 no-op

	assert.Equal(t, 0, hub.SubscriberCount("chat-1"))

	// 닫힌 구독의 채널은 닫혀 있음
	_, ok := <-sub.Events()
	assert.False(t, ok)
}

func TestSubscriptionTopic(t *testing.T) {
	hub := realtime.NewHub(zaptest.NewLogger(t))
	defer hub.Close()

	sub := hub.Subscribe("chat-42")
	defer sub.Close()
	assert.Equal(t, "chat-42", sub.Topic())
}

func TestNotifierPublishesAfterPersist(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, storage.AutoMigrate(db))
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		require.NoError(t, err)
		require.NoError(t, sqlDB.Close())
	})

	repo, err := storage.NewRepository(db)
	require.NoError(t, err)

	hub := realtime.NewHub(zaptest.NewLogger(t))
	defer hub.Close()
	notifier := realtime.NewNotifier(repo, hub, zaptest.NewLogger(t))

	ctx := context.Background()
	chat := &storage.Chat{UserID: "u", Title: "t"}
	require.NoError(t, repo.CreateChat(ctx, chat))

	sub := hub.Subscribe(chat.ID)
	defer sub.Close()

	msg := &storage.Message{
		ChatID:  chat.ID,
		Role:    storage.MessageRoleAssistant,
		Content: "reply",
	}
	require.NoError(t, notifier.CreateMessage(ctx, msg))

	// 이벤트가 발행되고
	select {
	case ev := <-sub.Events():
		assert.Equal(t, msg.ID, ev.Message.ID)
	case <-time.After(time.Second):
		t.Fatal("insert event not published")
	}

	// 행도 저장되어 있음
	got, err := repo.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "reply", got.Content)
}

func TestNotifierDoesNotPublishOnPersistFailure(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, storage.AutoMigrate(db))
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		require.NoError(t, err)
		require.NoError(t, sqlDB.Close())
	})

	repo, err := storage.NewRepository(db)
	require.NoError(t, err)

	hub := realtime.NewHub(zaptest.NewLogger(t))
	defer hub.Close()
	notifier := realtime.NewNotifier(repo, hub, zaptest.NewLogger(t))

	sub := hub.Subscribe("missing-chat")
	defer sub.Close()

	// 존재하지 않는 대화에 대한 삽입은 실패하고 이벤트도 없음
	err = notifier.CreateMessage(context.Background(), &storage.Message{
		ChatID:  "missing-chat",
		Role:    storage.MessageRoleUser,
		Content: "orphan",
	})
	require.Error(t, err)

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event after failed persist: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
