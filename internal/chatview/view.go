// Package chatview는 대화 화면의 메시지 목록 상태를 관리합니다.
// 저장소 스냅샷과 실시간 피드를 하나의 정렬된 목록으로 합치고,
// 사용자 입력 제출과 에이전트 호출을 담당합니다.
package chatview

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tinygen-oss/app/internal/identity"
	"github.com/tinygen-oss/app/internal/realtime"
	taskrunner "github.com/tinygen-oss/app/internal/runner"
	"github.com/tinygen-oss/app/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Subscription은 뷰가 소비하는 메시지 피드 구독입니다.
type Subscription interface {
	Topic() string
	Events() <-chan realtime.Event
	Close()
}

// Feed는 대화별 메시지 피드를 제공합니다.
type Feed interface {
	Subscribe(chatID string) Subscription
}

// hubFeed는 realtime.Hub를 Feed로 감쌉니다.
type hubFeed struct {
	hub *realtime.Hub
}

func (f hubFeed) Subscribe(chatID string) Subscription {
	return f.hub.Subscribe(chatID)
}

// HubFeed는 realtime.Hub를 Feed 인터페이스로 노출합니다.
func HubFeed(hub *realtime.Hub) Feed {
	return hubFeed{hub: hub}
}

// AgentInvoker는 에이전트 실행 요청을 전송합니다.
type AgentInvoker interface {
	RunAgent(ctx context.Context, req *taskrunner.RunAgentRequest) (*taskrunner.RunAgentResponse, error)
}

// MessageWriter는 메시지를 저장합니다. 게이트웨이 경로에서는
// realtime.Notifier가, 단독 경로에서는 storage.Repository가 사용됩니다.
type MessageWriter interface {
	CreateMessage(ctx context.Context, msg *storage.Message) error
}

// View는 하나의 대화 화면에 대응하는 명시적 세션 객체입니다.
// 전역 상태 없이 생성자에서 받은 협력자만 사용합니다.
type View struct {
	repo   *storage.Repository
	writer MessageWriter
	feed   Feed
	agent  AgentInvoker
	user   identity.Identity
	logger *zap.Logger

	mu        sync.Mutex
	chat      *storage.Chat
	messages  []storage.Message
	sub       Subscription
	pending   bool
	pendingAt time.Time
	closed    bool
	wg        sync.WaitGroup
}

// NewView는 새 대화 뷰를 생성합니다.
func NewView(repo *storage.Repository, writer MessageWriter, feed Feed, agent AgentInvoker, user identity.Identity, logger *zap.Logger) *View {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &View{
		repo:   repo,
		writer: writer,
		feed:   feed,
		agent:  agent,
		user:   user,
		logger: logger.Named("chatview"),
	}
}

// Activate는 대화를 이 뷰에 바인딩합니다.
//
// handoff가 있으면 방금 생성된 대화이므로 저장소 조회를 생략하고
// 전달받은 첫 메시지로 목록을 시드한 뒤 곧바로 에이전트를 호출합니다.
// handoff가 없으면 소유자 범위로 대화와 전체 메시지를 로드합니다.
// 같은 대화를 다시 활성화하면 no-op이고, 다른 대화로 전환하면 기존
// 구독을 먼저 닫습니다.
func (v *View) Activate(ctx context.Context, chatID string, handoff *Handoff) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewClosed
	}
	if v.chat != nil && v.chat.ID == chatID && v.sub != nil {
		v.mu.Unlock()
		return nil
	}
	if v.sub != nil {
		v.sub.Close()
		v.sub = nil
	}
	v.mu.Unlock()

	var (
		chat     storage.Chat
		messages []storage.Message
		invoke   string
	)

	if handoff != nil && handoff.Chat.ID == chatID {
		chat = handoff.Chat
		messages = []storage.Message{handoff.Initial}
		invoke = handoff.Initial.Content
	} else {
		loaded, err := v.repo.GetChatForUser(ctx, chatID, v.user.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrChatNotFound
			}
			return fmt.Errorf("chatview: load chat: %w", err)
		}
		chat = *loaded

		messages, err = v.repo.ListMessages(ctx, chatID)
		if err != nil {
			return fmt.Errorf("chatview: load messages: %w", err)
		}
	}

	sub := v.feed.Subscribe(chatID)

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		sub.Close()
		return ErrViewClosed
	}
	// 잠금을 놓은 사이 다른 Activate가 구독을 설치했을 수 있음
	if v.sub != nil {
		v.sub.Close()
	}
	v.chat = &chat
	v.messages = messages
	v.sub = sub
	v.pending = false
	v.mu.Unlock()

	v.wg.Add(1)
	go v.pump(sub)

	v.logger.Info("chat activated",
		zap.String("chat_id", chatID),
		zap.Int("messages", len(messages)),
		zap.Bool("handoff", handoff != nil),
	)

	if invoke != "" {
		v.setPending()
		v.invokeAgent(ctx, invoke)
	}

	return nil
}

// Submit은 사용자 입력을 제출합니다.
//
// 낙관적 로컬 메시지를 먼저 목록에 추가하고, 저장에 성공하면 실제
// 행으로 교체한 뒤 에이전트를 호출합니다. 저장에 실패하면 낙관적
// 항목은 남겨 두고 에러를 반환합니다.
func (v *View) Submit(ctx context.Context, prompt string) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewClosed
	}
	if v.chat == nil {
		v.mu.Unlock()
		return ErrNoActiveChat
	}
	chatID := v.chat.ID

	optimistic := storage.Message{
		ID:        fmt.Sprintf("temp-%d", time.Now().UnixNano()),
		ChatID:    chatID,
		Role:      storage.MessageRoleUser,
		Content:   prompt,
		CreatedAt: time.Now(),
	}
	v.messages = append(v.messages, optimistic)
	v.mu.Unlock()

	stored := &storage.Message{
		ChatID:  chatID,
		Role:    storage.MessageRoleUser,
		Content: prompt,
	}
	if err := v.writer.CreateMessage(ctx, stored); err != nil {
		v.logger.Error("failed to persist user message",
			zap.String("chat_id", chatID),
			zap.Error(err),
		)
		return fmt.Errorf("chatview: persist message: %w", err)
	}

	v.mu.Lock()
	for i := range v.messages {
		if v.messages[i].ID == optimistic.ID {
			v.messages[i] = *stored
			break
		}
	}
	v.pending = true
	v.pendingAt = time.Now()
	v.mu.Unlock()

	v.invokeAgent(ctx, prompt)
	return nil
}

// invokeAgent는 에이전트 실행을 요청합니다. 전송 실패나 거부 응답은
// 재시도 없이 assistant 역할의 "Error: ..." 메시지로 대화에 남깁니다.
func (v *View) invokeAgent(ctx context.Context, prompt string) {
	v.mu.Lock()
	if v.closed || v.chat == nil {
		v.mu.Unlock()
		return
	}
	req := &taskrunner.RunAgentRequest{
		ChatID:             v.chat.ID,
		RepoURL:            v.chat.GitHubRepoURL,
		UserGitHubUsername: v.user.DisplayHandle(),
		Prompt:             prompt,
	}
	v.mu.Unlock()

	_, err := v.agent.RunAgent(ctx, req)
	if err == nil {
		return
	}

	v.logger.Error("agent invocation failed",
		zap.String("chat_id", req.ChatID),
		zap.Error(err),
	)

	failure := &storage.Message{
		ChatID:  req.ChatID,
		Role:    storage.MessageRoleAssistant,
		Content: "Error: " + err.Error(),
	}
	if werr := v.writer.CreateMessage(ctx, failure); werr != nil {
		v.logger.Error("failed to persist agent failure message",
			zap.String("chat_id", req.ChatID),
			zap.Error(werr),
		)
		return
	}

	// 피드 echo는 ID 중복 제거로 걸러지므로 직접 반영해도 안전함
	v.merge(*failure)
}

// pump는 구독 채널을 소비합니다. 구독이 닫히면 종료합니다.
func (v *View) pump(sub Subscription) {
	defer v.wg.Done()
	for ev := range sub.Events() {
		v.handleEvent(ev)
	}
}

// handleEvent는 피드 이벤트 하나를 목록에 반영합니다.
// assistant 역할의 삽입 이벤트만 병합하며 나머지는 무시합니다.
func (v *View) handleEvent(ev realtime.Event) {
	if ev.Kind != realtime.EventInserted {
		return
	}
	if ev.Message.Role != storage.MessageRoleAssistant {
		return
	}
	v.merge(ev.Message)
}

// merge는 메시지를 (CreatedAt, ID) 순서를 유지하며 삽입합니다.
// 이미 알고 있는 ID면 no-op입니다.
func (v *View) merge(msg storage.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed || v.chat == nil || msg.ChatID != v.chat.ID {
		return
	}
	for i := range v.messages {
		if v.messages[i].ID == msg.ID {
			return
		}
	}

	idx := sort.Search(len(v.messages), func(i int) bool {
		m := v.messages[i]
		if !m.CreatedAt.Equal(msg.CreatedAt) {
			return m.CreatedAt.After(msg.CreatedAt)
		}
		return m.ID > msg.ID
	})
	v.messages = append(v.messages, storage.Message{})
	copy(v.messages[idx+1:], v.messages[idx:])
	v.messages[idx] = msg

	if msg.Role == storage.MessageRoleAssistant {
		v.pending = false
	}
}

func (v *View) setPending() {
	v.mu.Lock()
	v.pending = true
	v.pendingAt = time.Now()
	v.mu.Unlock()
}

// Messages는 현재 메시지 목록의 복사본을 반환합니다.
func (v *View) Messages() []storage.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]storage.Message, len(v.messages))
	copy(out, v.messages)
	return out
}

// Chat은 활성화된 대화를 반환합니다. 없으면 nil입니다.
func (v *View) Chat() *storage.Chat {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.chat == nil {
		return nil
	}
	chat := *v.chat
	return &chat
}

// Pending은 에이전트 응답을 기다리는 중인지 반환합니다.
// 첫 assistant 이벤트가 도착하면 해제됩니다.
func (v *View) Pending() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pending
}

// PendingSince는 대기 시작 시각을 반환합니다. 호출자가 자체 타임아웃을
// 걸 수 있도록 노출하며, 뷰 자체는 무한정 기다리지 않습니다.
func (v *View) PendingSince() (time.Time, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.pending {
		return time.Time{}, false
	}
	return v.pendingAt, true
}

// Close는 구독을 해제하고 뷰를 종료합니다. 이후 도착하는 비동기
// 콜백은 모두 무시됩니다.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	sub := v.sub
	v.sub = nil
	v.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	v.wg.Wait()
}
