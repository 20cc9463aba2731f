package realtime

import (
	"sync"

	"github.com/tinygen-oss/app/internal/storage"
	"go.uber.org/zap"
)

// EventKind는 변경 피드 이벤트의 종류입니다.
type EventKind string

const (
	// EventInserted는 메시지 삽입 이벤트입니다.
	EventInserted EventKind = "inserted"
)

// Event는 대화 단위 변경 피드로 전달되는 이벤트입니다.
type Event struct {
	Kind    EventKind
	Message storage.Message
}

// subscriptionBuffer는 구독 채널의 버퍼 크기입니다.
// 피드는 best-effort이며, 소비가 밀리면 이벤트를 버리고 경고를 남깁니다.
const subscriptionBuffer = 64

// Hub는 대화별 메시지 삽입 이벤트를 구독자에게 팬아웃합니다.
// 저장 서비스의 change-feed를 in-process로 모델링한 것으로,
// 구독은 chat ID로 스코프되고 서버 측 필터링과 동일하게 동작합니다.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	logger *zap.Logger
	closed bool
}

// NewHub는 새로운 Hub를 생성합니다.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscribe는 chatID로 스코프된 구독을 생성합니다.
func (h *Hub) Subscribe(chatID string) *Subscription {
	sub := &Subscription{
		topic:  chatID,
		events: make(chan Event, subscriptionBuffer),
		hub:    h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		// Hub가 이미 닫힌 경우 즉시 닫힌 구독을 반환
		close(sub.events)
		sub.done = true
		return sub
	}
	if h.subs[chatID] == nil {
		h.subs[chatID] = make(map[*Subscription]struct{})
	}
	h.subs[chatID][sub] = struct{}{}
	return sub
}

// Publish는 이벤트를 해당 대화의 모든 구독자에게 전달합니다.
// 버퍼가 가득 찬 구독자는 이벤트를 놓칩니다 (피드는 best-effort).
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for sub := range h.subs[event.Message.ChatID] {
		select {
		case sub.events <- event:
		default:
			h.logger.Warn("realtime subscriber buffer full, dropping event",
				zap.String("chat_id", event.Message.ChatID),
				zap.String("message_id", event.Message.ID),
			)
		}
	}
}

// SubscriberCount는 대화의 활성 구독자 수를 반환합니다.
func (h *Hub) SubscriberCount(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[chatID])
}

// Close는 모든 구독을 해제하고 Hub를 닫습니다.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, subs := range h.subs {
		for sub := range subs {
			sub.markClosed()
		}
	}
	h.subs = make(map[string]map[*Subscription]struct{})
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if set, ok := h.subs[sub.topic]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.topic)
		}
	}
}

// Subscription은 하나의 대화에 바인딩된 변경 피드 핸들입니다.
type Subscription struct {
	topic  string
	events chan Event
	hub    *Hub

	mu   sync.Mutex
	done bool
}

// Topic은 구독이 바인딩된 chat ID를 반환합니다.
func (s *Subscription) Topic() string {
	return s.topic
}

// Events는 이벤트 수신 채널을 반환합니다.
// 구독이 닫히면 채널도 닫힙니다.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close는 구독을 해제합니다. 여러 번 호출해도 안전합니다.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.mu.Unlock()

	s.hub.unsubscribe(s)
	close(s.events)
}

// markClosed는 Hub.Close 경로에서 호출됩니다 (hub lock 보유 상태).
func (s *Subscription) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	close(s.events)
}
