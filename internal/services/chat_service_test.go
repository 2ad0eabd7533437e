package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/RathijitAich/HomeChatBack/internal/models"
)

type stubStore struct {
	listResult  []models.Message
	listErr     error
	historyFunc func(user1, user2 string) ([]models.Message, error)
	sendFunc    func(submission models.MessageSubmission) (*models.Message, error)
}

func (s *stubStore) ListMessages(_ context.Context, _ string) ([]models.Message, error) {
	return s.listResult, s.listErr
}

func (s *stubStore) GetHistory(_ context.Context, user1, user2 string) ([]models.Message, error) {
	if s.historyFunc == nil {
		return nil, errors.New("no history stub")
	}
	return s.historyFunc(user1, user2)
}

func (s *stubStore) SendMessage(_ context.Context, submission models.MessageSubmission) (*models.Message, error) {
	if s.sendFunc == nil {
		return nil, errors.New("no send stub")
	}
	return s.sendFunc(submission)
}

type stubStream struct {
	connected  bool
	publishErr error
	published  []models.MessageSubmission
}

func (s *stubStream) Connected() bool { return s.connected }

func (s *stubStream) Status() string {
	if s.connected {
		return "connected"
	}
	return "disconnected"
}

func (s *stubStream) Publish(submission models.MessageSubmission) error {
	if s.publishErr != nil {
		return s.publishErr
	}
	s.published = append(s.published, submission)
	return nil
}

type stubSink struct {
	mu               sync.Mutex
	messagePushes    []models.Message
	sidebarRefreshes int
	lastSummaries    []models.ConversationSummary
}

func (s *stubSink) PushMessage(_ string, message models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messagePushes = append(s.messagePushes, message)
}

func (s *stubSink) PushConversations(_ string, summaries []models.ConversationSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sidebarRefreshes++
	s.lastSummaries = summaries
}

func newTestService(t *testing.T, store *stubStore, stream *stubStream, sink *stubSink) (*ChatService, *ChatSession) {
	t.Helper()

	var service *ChatService
	if sink != nil {
		service = NewChatService(store, sink)
	} else {
		service = NewChatService(store, nil)
	}
	if stream != nil {
		service.AttachStream(stream)
	}

	session, err := service.OpenSession("alice@x.com", "homeowner")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	return service, session
}

func TestOpenSessionValidatesIdentity(t *testing.T) {
	service := NewChatService(&stubStore{}, nil)

	if _, err := service.OpenSession("alice@x.com", "plumber"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for unknown role, got %v", err)
	}
	if _, err := service.OpenSession("   ", "worker"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank email, got %v", err)
	}

	first, err := service.OpenSession("alice@x.com", "homeowner")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	second, err := service.OpenSession("ALICE@x.com", "homeowner")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if first != second {
		t.Fatal("expected case variants of one participant to share a session")
	}
}

func TestListConversationsRebuildsFromStore(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &stubStore{
		listResult: []models.Message{
			buildMessage("1", "alice@x.com", "bob@x.com", "hi", t1),
			buildMessage("2", "alice@x.com", "carol@x.com", "yo", t1.Add(time.Minute)),
		},
	}
	service, session := newTestService(t, store, nil, nil)

	summaries, err := service.ListConversations(context.Background(), session)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(summaries))
	}
	if summaries[0].ParticipantEmail != "carol@x.com" {
		t.Fatalf("expected carol first, got %q", summaries[0].ParticipantEmail)
	}
}

func TestListConversationsFallsBackToCachedSummaries(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &stubStore{
		listResult: []models.Message{
			buildMessage("1", "alice@x.com", "bob@x.com", "hi", t1),
		},
	}
	service, session := newTestService(t, store, nil, nil)

	if _, err := service.ListConversations(context.Background(), session); err != nil {
		t.Fatalf("priming ListConversations: %v", err)
	}

	store.listErr = errors.New("store down")
	summaries, err := service.ListConversations(context.Background(), session)
	if err != nil {
		t.Fatalf("expected cached fallback, got error: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ParticipantEmail != "bob@x.com" {
		t.Fatalf("unexpected cached summaries: %+v", summaries)
	}
}

func TestListConversationsNoCacheReturnsNonBlockingError(t *testing.T) {
	store := &stubStore{listErr: errors.New("store down")}
	service, session := newTestService(t, store, nil, nil)

	summaries, err := service.ListConversations(context.Background(), session)
	if !errors.Is(err, ErrConversationsUnavailable) {
		t.Fatalf("expected ErrConversationsUnavailable, got %v", err)
	}
	if summaries == nil || len(summaries) != 0 {
		t.Fatalf("expected empty non-nil summary list, got %+v", summaries)
	}
}

func TestSelectConversationSortsHistoryOldestFirst(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &stubStore{
		historyFunc: func(_, _ string) ([]models.Message, error) {
			return []models.Message{
				buildMessage("2", "bob@x.com", "alice@x.com", "hey", t1.Add(time.Minute)),
				buildMessage("1", "alice@x.com", "bob@x.com", "hi", t1),
			}, nil
		},
	}
	service, session := newTestService(t, store, nil, nil)

	messages, err := service.SelectConversation(context.Background(), session, "bob@x.com")
	if err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}
	if len(messages) != 2 || messages[0].ID != "1" || messages[1].ID != "2" {
		t.Fatalf("expected chronological order, got %+v", messages)
	}
	if session.ActivePartner() != "bob@x.com" {
		t.Fatalf("expected bob to be the open conversation, got %q", session.ActivePartner())
	}
}

func TestSelectConversationFallsBackToCachedMessages(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &stubStore{
		listResult: []models.Message{
			buildMessage("2", "bob@x.com", "alice@x.com", "hey", t1.Add(time.Minute)),
			buildMessage("1", "alice@x.com", "bob@x.com", "hi", t1),
		},
		historyFunc: func(_, _ string) ([]models.Message, error) {
			return nil, errors.New("store down")
		},
	}
	service, session := newTestService(t, store, nil, nil)

	if _, err := service.ListConversations(context.Background(), session); err != nil {
		t.Fatalf("priming ListConversations: %v", err)
	}

	messages, err := service.SelectConversation(context.Background(), session, "bob@x.com")
	if err != nil {
		t.Fatalf("expected cached fallback, got error: %v", err)
	}
	if len(messages) != 2 || messages[0].ID != "1" || messages[1].ID != "2" {
		t.Fatalf("expected the two cached messages oldest first, got %+v", messages)
	}
}

func TestSelectConversationNoCacheReturnsNonBlockingError(t *testing.T) {
	store := &stubStore{
		historyFunc: func(_, _ string) ([]models.Message, error) {
			return nil, errors.New("store down")
		},
	}
	service, session := newTestService(t, store, nil, nil)

	messages, err := service.SelectConversation(context.Background(), session, "bob@x.com")
	if !errors.Is(err, ErrHistoryUnavailable) {
		t.Fatalf("expected ErrHistoryUnavailable, got %v", err)
	}
	if messages == nil || len(messages) != 0 {
		t.Fatalf("expected empty non-nil message list, got %+v", messages)
	}
}

func TestSelectConversationSupersededFetchIsDiscarded(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	bobHistory := []models.Message{buildMessage("b1", "bob@x.com", "alice@x.com", "from bob", t1)}
	carolHistory := []models.Message{buildMessage("c1", "carol@x.com", "alice@x.com", "from carol", t1)}

	var service *ChatService
	var session *ChatSession

	store := &stubStore{}
	store.historyFunc = func(_, user2 string) ([]models.Message, error) {
		if user2 == "bob@x.com" {
			// The user picks carol while bob's fetch is still in flight.
			if _, err := service.SelectConversation(context.Background(), session, "carol@x.com"); err != nil {
				t.Fatalf("inner SelectConversation: %v", err)
			}
			return bobHistory, nil
		}
		return carolHistory, nil
	}

	service, session = newTestService(t, store, nil, nil)

	if _, err := service.SelectConversation(context.Background(), session, "bob@x.com"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}

	if session.ActivePartner() != "carol@x.com" {
		t.Fatalf("expected carol to stay selected, got %q", session.ActivePartner())
	}
	active := session.ActiveMessages()
	if len(active) != 1 || active[0].ID != "c1" {
		t.Fatalf("expected carol's history to survive the stale fetch, got %+v", active)
	}
}

func TestSendMessageStreamPathPublishesWithoutAppending(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &stubStore{
		historyFunc: func(_, _ string) ([]models.Message, error) {
			return []models.Message{buildMessage("1", "bob@x.com", "alice@x.com", "hey", t1)}, nil
		},
	}
	stream := &stubStream{connected: true}
	service, session := newTestService(t, store, stream, nil)

	if _, err := service.SelectConversation(context.Background(), session, "bob@x.com"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}

	created, queued, err := service.SendMessage(context.Background(), session, "bob@x.com", "  hi there  ")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !queued || created != nil {
		t.Fatalf("expected queued send with no local message, got queued=%v created=%+v", queued, created)
	}
	if len(stream.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(stream.published))
	}
	if stream.published[0].MessageContent != "hi there" {
		t.Fatalf("expected trimmed content, got %q", stream.published[0].MessageContent)
	}
	if got := len(session.ActiveMessages()); got != 1 {
		t.Fatalf("expected active list unchanged until the rebroadcast, got %d messages", got)
	}
}

func TestSendMessageFallbackAppendsStoredMessage(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &stubStore{
		historyFunc: func(_, _ string) ([]models.Message, error) {
			return []models.Message{}, nil
		},
		sendFunc: func(submission models.MessageSubmission) (*models.Message, error) {
			created := buildMessage("m-9", submission.SenderEmail, submission.ReceiverEmail, submission.MessageContent, t1)
			return &created, nil
		},
	}
	stream := &stubStream{connected: false}
	service, session := newTestService(t, store, stream, nil)

	if _, err := service.SelectConversation(context.Background(), session, "bob@x.com"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}

	created, queued, err := service.SendMessage(context.Background(), session, "bob@x.com", "hi")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if queued {
		t.Fatal("expected request/response path, got queued")
	}
	if created == nil || created.ID != "m-9" {
		t.Fatalf("expected stored message back, got %+v", created)
	}

	active := session.ActiveMessages()
	if len(active) != 1 || active[0].ID != "m-9" {
		t.Fatalf("expected stored message appended to the active list, got %+v", active)
	}
	if len(stream.published) != 0 {
		t.Fatalf("expected no stream publish while disconnected, got %d", len(stream.published))
	}
}

func TestSendMessageFallbackFailureSurfacesError(t *testing.T) {
	store := &stubStore{
		sendFunc: func(_ models.MessageSubmission) (*models.Message, error) {
			return nil, errors.New("store down")
		},
	}
	service, session := newTestService(t, store, &stubStream{connected: false}, nil)

	if _, _, err := service.SendMessage(context.Background(), session, "bob@x.com", "hi"); err == nil {
		t.Fatal("expected error from failed fallback send")
	}
	if got := len(session.ActiveMessages()); got != 0 {
		t.Fatalf("expected no message recorded for a failed send, got %d", got)
	}
}

func TestSendMessageRejectsConcurrentSends(t *testing.T) {
	var service *ChatService
	var session *ChatSession

	store := &stubStore{}
	store.sendFunc = func(submission models.MessageSubmission) (*models.Message, error) {
		// A second send arriving while this one is in flight must be
		// rejected, not queued.
		if _, _, err := service.SendMessage(context.Background(), session, "bob@x.com", "again"); !errors.Is(err, ErrSendInFlight) {
			t.Fatalf("expected ErrSendInFlight for concurrent send, got %v", err)
		}
		created := buildMessage("m-1", submission.SenderEmail, submission.ReceiverEmail, submission.MessageContent, time.Now())
		return &created, nil
	}

	service, session = newTestService(t, store, nil, nil)

	if _, _, err := service.SendMessage(context.Background(), session, "bob@x.com", "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	// The slot frees up once the first send completes.
	if _, _, err := service.SendMessage(context.Background(), session, "bob@x.com", "later"); err != nil {
		t.Fatalf("follow-up SendMessage: %v", err)
	}
}

func TestSendMessageValidatesInput(t *testing.T) {
	service, session := newTestService(t, &stubStore{}, nil, nil)

	if _, _, err := service.SendMessage(context.Background(), session, "bob@x.com", "   "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank content, got %v", err)
	}
	if _, _, err := service.SendMessage(context.Background(), session, "ALICE@x.com", "hi"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for self-addressed send, got %v", err)
	}
}

func TestHandleIncomingAppendsToOpenConversation(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &stubStore{
		historyFunc: func(_, _ string) ([]models.Message, error) {
			return []models.Message{}, nil
		},
	}
	sink := &stubSink{}
	service, session := newTestService(t, store, nil, sink)

	if _, err := service.SelectConversation(context.Background(), session, "bob@x.com"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}

	service.HandleIncoming(buildMessage("m-1", "bob@x.com", "alice@x.com", "hey", t1))

	active := session.ActiveMessages()
	if len(active) != 1 || active[0].ID != "m-1" {
		t.Fatalf("expected incoming message appended, got %+v", active)
	}
	if len(sink.messagePushes) != 1 {
		t.Fatalf("expected 1 message push, got %d", len(sink.messagePushes))
	}
	if sink.sidebarRefreshes != 1 {
		t.Fatalf("expected 1 sidebar refresh, got %d", sink.sidebarRefreshes)
	}
}

func TestHandleIncomingIsIdempotentUnderRedelivery(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &stubStore{
		historyFunc: func(_, _ string) ([]models.Message, error) {
			return []models.Message{}, nil
		},
	}
	sink := &stubSink{}
	service, session := newTestService(t, store, nil, sink)

	if _, err := service.SelectConversation(context.Background(), session, "bob@x.com"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}

	incoming := buildMessage("m-1", "bob@x.com", "alice@x.com", "hey", t1)
	service.HandleIncoming(incoming)
	service.HandleIncoming(incoming)

	if got := len(session.ActiveMessages()); got != 1 {
		t.Fatalf("expected exactly one visible copy after redelivery, got %d", got)
	}
	if len(sink.messagePushes) != 1 {
		t.Fatalf("expected 1 message push after redelivery, got %d", len(sink.messagePushes))
	}
	if len(sink.lastSummaries) != 1 || sink.lastSummaries[0].MessageCount != 1 {
		t.Fatalf("expected sidebar to count the message once, got %+v", sink.lastSummaries)
	}
}

func TestHandleIncomingDedupesWithoutIDs(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &stubStore{
		historyFunc: func(_, _ string) ([]models.Message, error) {
			return []models.Message{}, nil
		},
	}
	service, session := newTestService(t, store, nil, nil)

	if _, err := service.SelectConversation(context.Background(), session, "bob@x.com"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}

	service.HandleIncoming(buildMessage("", "bob@x.com", "alice@x.com", "hey", t1))
	service.HandleIncoming(buildMessage("", "BOB@x.com", "alice@x.com", "hey", t1))

	if got := len(session.ActiveMessages()); got != 1 {
		t.Fatalf("expected content+sender+time dedup, got %d messages", got)
	}
}

func TestHandleIncomingOtherConversationRefreshesSidebarOnly(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &stubStore{
		historyFunc: func(_, _ string) ([]models.Message, error) {
			return []models.Message{}, nil
		},
	}
	sink := &stubSink{}
	service, session := newTestService(t, store, nil, sink)

	if _, err := service.SelectConversation(context.Background(), session, "bob@x.com"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}

	service.HandleIncoming(buildMessage("m-1", "carol@x.com", "alice@x.com", "yo", t1))

	if got := len(session.ActiveMessages()); got != 0 {
		t.Fatalf("expected open conversation untouched, got %d messages", got)
	}
	if len(sink.messagePushes) != 0 {
		t.Fatalf("expected no message push, got %d", len(sink.messagePushes))
	}
	if sink.sidebarRefreshes != 1 {
		t.Fatalf("expected 1 sidebar refresh, got %d", sink.sidebarRefreshes)
	}
	if len(sink.lastSummaries) != 1 || sink.lastSummaries[0].ParticipantEmail != "carol@x.com" {
		t.Fatalf("expected carol to surface in the sidebar, got %+v", sink.lastSummaries)
	}
}

func TestHandleIncomingIgnoresBystanderMessages(t *testing.T) {
	sink := &stubSink{}
	service, _ := newTestService(t, &stubStore{}, nil, sink)

	service.HandleIncoming(buildMessage("m-1", "carol@x.com", "dan@x.com", "private", time.Now()))

	if len(sink.messagePushes) != 0 || sink.sidebarRefreshes != 0 {
		t.Fatalf("expected no pushes for an unrelated message, got %d/%d",
			len(sink.messagePushes), sink.sidebarRefreshes)
	}
}

func TestStreamStatusWithoutStream(t *testing.T) {
	service := NewChatService(&stubStore{}, nil)
	if got := service.StreamStatus(); got != "disconnected" {
		t.Fatalf("expected disconnected, got %q", got)
	}

	service.AttachStream(&stubStream{connected: true})
	if got := service.StreamStatus(); got != "connected" {
		t.Fatalf("expected connected, got %q", got)
	}
}

func TestCloseSessionDropsState(t *testing.T) {
	service, session := newTestService(t, &stubStore{}, nil, nil)

	service.CloseSession(session.ID)

	reopened, err := service.OpenSession("alice@x.com", "homeowner")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if reopened == session {
		t.Fatal("expected a fresh session after close")
	}
}
