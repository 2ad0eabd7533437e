package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/RathijitAich/HomeChatBack/internal/models"
)

var (
	ErrForbidden                = errors.New("forbidden")
	ErrInvalidInput             = errors.New("invalid input")
	ErrSendInFlight             = errors.New("send already in flight")
	ErrHistoryUnavailable       = errors.New("message history unavailable")
	ErrConversationsUnavailable = errors.New("conversation list unavailable")
)

type messageStore interface {
	ListMessages(ctx context.Context, participantEmail string) ([]models.Message, error)
	GetHistory(ctx context.Context, user1, user2 string) ([]models.Message, error)
	SendMessage(ctx context.Context, submission models.MessageSubmission) (*models.Message, error)
}

type messageStream interface {
	Connected() bool
	Status() string
	Publish(submission models.MessageSubmission) error
}

type eventSink interface {
	PushMessage(sessionID string, message models.Message)
	PushConversations(sessionID string, summaries []models.ConversationSummary)
}

// ChatService implements the chat feature for all connected participants:
// it aggregates conversations from the message store, reconciles the event
// stream's broadcasts into per-session state, and picks the send path based
// on the stream connection.
type ChatService struct {
	store messageStore
	sink  eventSink

	mu       sync.RWMutex
	stream   messageStream
	sessions map[string]*ChatSession
}

func NewChatService(store messageStore, sink eventSink) *ChatService {
	return &ChatService{
		store:    store,
		sink:     sink,
		sessions: make(map[string]*ChatSession),
	}
}

// AttachStream wires the event stream client in after construction; the
// stream handler needs the service, so the two cannot be built in one step.
func (s *ChatService) AttachStream(stream messageStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream = stream
}

func (s *ChatService) currentStream() messageStream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stream
}

// StreamStatus reports the event stream connection state.
func (s *ChatService) StreamStatus() string {
	stream := s.currentStream()
	if stream == nil {
		return "disconnected"
	}
	return stream.Status()
}

// OpenSession returns the session for the given participant, creating it on
// first use. Exactly one of the homeowner or worker identity is active per
// session; the caller supplies it explicitly.
func (s *ChatService) OpenSession(email, role string) (*ChatSession, error) {
	if role != "homeowner" && role != "worker" {
		return nil, ErrForbidden
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrInvalidInput
	}

	key := normalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if session, exists := s.sessions[key]; exists {
		return session, nil
	}

	session := &ChatSession{
		ID:        uuid.NewString(),
		UserEmail: email,
		Role:      role,
	}
	s.sessions[key] = session
	return session, nil
}

// CloseSession tears the session down on logout or when its last client
// disconnects. The cached conversation state is a session-lifetime
// convenience and dies with it.
func (s *ChatService) CloseSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, session := range s.sessions {
		if session.ID == sessionID {
			delete(s.sessions, key)
			return
		}
	}
}

// ListConversations refetches the participant's full message list and
// rebuilds the conversation list from scratch. On a fetch failure the last
// aggregation pass keeps serving; the error only surfaces when there is no
// cached state at all.
func (s *ChatService) ListConversations(ctx context.Context, session *ChatSession) ([]models.ConversationSummary, error) {
	if session == nil {
		return nil, ErrInvalidInput
	}

	messages, err := s.store.ListMessages(ctx, session.UserEmail)
	if err != nil {
		cached := session.Summaries()
		if len(cached) > 0 {
			return cached, nil
		}
		return []models.ConversationSummary{}, fmt.Errorf("%w: %v", ErrConversationsUnavailable, err)
	}

	session.ReplaceConversations(BuildConversations(messages, session.UserEmail))
	return session.Summaries(), nil
}

// SelectConversation opens the conversation with the given partner and
// fetches its full history, oldest first. If the fetch fails, the messages
// cached from the last aggregation pass are served instead; a fetch that was
// superseded by a newer selection is discarded rather than applied.
func (s *ChatService) SelectConversation(ctx context.Context, session *ChatSession, partnerEmail string) ([]models.Message, error) {
	if session == nil {
		return nil, ErrInvalidInput
	}
	partnerEmail = strings.TrimSpace(partnerEmail)
	if partnerEmail == "" || strings.EqualFold(partnerEmail, session.UserEmail) {
		return nil, ErrInvalidInput
	}

	epoch := session.BeginSelect(partnerEmail)

	history, err := s.store.GetHistory(ctx, session.UserEmail, partnerEmail)
	if err != nil {
		cached, ok := session.CachedMessages(partnerEmail)
		if !ok {
			return []models.Message{}, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
		}
		SortMessagesChronological(cached)
		session.CompleteSelect(epoch, cached)
		return cached, nil
	}

	SortMessagesChronological(history)
	session.CompleteSelect(epoch, history)
	return history, nil
}

// SendMessage delivers a new message for the session. While the event stream
// is connected, the message is published there and NOT appended locally; the
// broker's rebroadcast is the sole source of the rendered copy, so queued is
// returned true and the message nil. When the stream is down, the store's
// request/response path is used and the stored message is appended directly.
func (s *ChatService) SendMessage(ctx context.Context, session *ChatSession, receiverEmail, content string) (*models.Message, bool, error) {
	if session == nil {
		return nil, false, ErrInvalidInput
	}
	receiverEmail = strings.TrimSpace(receiverEmail)
	if receiverEmail == "" || strings.EqualFold(receiverEmail, session.UserEmail) {
		return nil, false, ErrInvalidInput
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, false, ErrInvalidInput
	}

	if !session.BeginSend() {
		return nil, false, ErrSendInFlight
	}
	defer session.EndSend()

	submission := models.MessageSubmission{
		SenderEmail:    session.UserEmail,
		ReceiverEmail:  receiverEmail,
		MessageContent: content,
	}

	if stream := s.currentStream(); stream != nil && stream.Connected() {
		err := stream.Publish(submission)
		if err == nil {
			return nil, true, nil
		}
		log.Printf("Stream publish failed, falling back to store: %v", err)
	}

	created, err := s.store.SendMessage(ctx, submission)
	if err != nil {
		return nil, false, fmt.Errorf("send message: %w", err)
	}

	appended, summaries := session.AppendSent(*created)
	if s.sink != nil {
		if appended {
			s.sink.PushMessage(session.ID, *created)
		}
		s.sink.PushConversations(session.ID, summaries)
	}

	return created, false, nil
}

// HandleIncoming is the event stream's broadcast handler. Every session the
// message involves gets its sidebar refreshed; the session with that
// conversation open also gets the message appended, unless it is a
// redelivered duplicate.
func (s *ChatService) HandleIncoming(message models.Message) {
	s.mu.RLock()
	sessions := make([]*ChatSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.RUnlock()

	for _, session := range sessions {
		appended, summaries, relevant := session.Reconcile(message)
		if !relevant || s.sink == nil {
			continue
		}
		if appended {
			s.sink.PushMessage(session.ID, message)
		}
		s.sink.PushConversations(session.ID, summaries)
	}
}
