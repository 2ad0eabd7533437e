package services

import (
	"sync"

	"github.com/RathijitAich/HomeChatBack/internal/models"
)

// ChatSession holds the conversation state for one logged-in participant:
// the aggregated conversation list, the currently open conversation, and the
// guards for single-flight sends and superseded history fetches. All state is
// owned by the session and mutated only under its lock, so aggregation and
// reconciliation run to completion without interleaving.
type ChatSession struct {
	ID        string
	UserEmail string
	Role      string

	mu             sync.Mutex
	conversations  []models.Conversation
	activePartner  string
	activeMessages []models.Message
	selectEpoch    uint64
	sendInFlight   bool
}

// ReplaceConversations swaps in a freshly aggregated conversation list.
// The previous list is discarded wholesale; conversations are never patched
// across full fetches.
func (s *ChatSession) ReplaceConversations(conversations []models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = conversations
}

func (s *ChatSession) Summaries() []models.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summariesLocked()
}

func (s *ChatSession) summariesLocked() []models.ConversationSummary {
	summaries := make([]models.ConversationSummary, 0, len(s.conversations))
	for i := range s.conversations {
		summaries = append(summaries, s.conversations[i].Summary())
	}
	return summaries
}

// CachedMessages returns a copy of the messages already known for the given
// partner from the last aggregation pass. It backs the fetch-failure fallback:
// a conversation the user has opened must never go blank on a transient error.
func (s *ChatSession) CachedMessages(partnerEmail string) ([]models.Message, bool) {
	key := normalizeEmail(partnerEmail)

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		if normalizeEmail(s.conversations[i].ParticipantEmail) != key {
			continue
		}
		cached := make([]models.Message, len(s.conversations[i].Messages))
		copy(cached, s.conversations[i].Messages)
		return cached, true
	}
	return nil, false
}

// BeginSelect marks the partner as the open conversation and returns a fetch
// epoch. The matching history fetch may only be applied while its epoch is
// still current, so a fetch superseded by a newer selection is discarded.
func (s *ChatSession) BeginSelect(partnerEmail string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activePartner = partnerEmail
	s.selectEpoch++
	return s.selectEpoch
}

// CompleteSelect installs the fetched history if the selection is still
// current. Stale results are dropped without touching the active view.
func (s *ChatSession) CompleteSelect(epoch uint64, messages []models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.selectEpoch {
		return false
	}
	s.activeMessages = messages
	return true
}

func (s *ChatSession) ActivePartner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activePartner
}

func (s *ChatSession) ActiveMessages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := make([]models.Message, len(s.activeMessages))
	copy(messages, s.activeMessages)
	return messages
}

// BeginSend claims the session's single send slot. A send attempted while a
// previous one is still in flight is rejected, never queued.
func (s *ChatSession) BeginSend() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendInFlight {
		return false
	}
	s.sendInFlight = true
	return true
}

func (s *ChatSession) EndSend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendInFlight = false
}

// Reconcile merges one message pushed by the event stream into session state.
// It reports whether the message was appended to the open conversation, the
// refreshed sidebar summaries, and whether the message involved this
// participant at all. Redelivered duplicates change nothing.
func (s *ChatSession) Reconcile(message models.Message) (bool, []models.ConversationSummary, bool) {
	partner, ok := partnerOf(message, s.UserEmail)
	if !ok {
		return false, nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.mergeLocked(partner, message)

	appended := false
	if BelongsToConversation(message, s.UserEmail, s.activePartner) &&
		!IsDuplicate(s.activeMessages, message) {
		s.activeMessages = append(s.activeMessages, message)
		appended = true
	}

	return appended, s.summariesLocked(), true
}

// AppendSent records a message delivered over the fallback request/response
// path. Stream-path sends never go through here; their authoritative copy
// arrives via Reconcile.
func (s *ChatSession) AppendSent(message models.Message) (bool, []models.ConversationSummary) {
	partner, ok := partnerOf(message, s.UserEmail)
	if !ok {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.mergeLocked(partner, message)

	appended := false
	if BelongsToConversation(message, s.UserEmail, s.activePartner) &&
		!IsDuplicate(s.activeMessages, message) {
		s.activeMessages = append(s.activeMessages, message)
		appended = true
	}

	return appended, s.summariesLocked()
}

// mergeLocked updates the conversation bucket for partner in place and
// restores the most-recent-first ordering. Callers hold s.mu.
func (s *ChatSession) mergeLocked(partnerEmail string, message models.Message) {
	key := normalizeEmail(partnerEmail)

	index := -1
	for i := range s.conversations {
		if normalizeEmail(s.conversations[i].ParticipantEmail) == key {
			index = i
			break
		}
	}

	if index == -1 {
		s.conversations = append(s.conversations, models.Conversation{
			ParticipantEmail: partnerEmail,
		})
		index = len(s.conversations) - 1
	}

	conversation := &s.conversations[index]
	if IsDuplicate(conversation.Messages, message) {
		return
	}

	conversation.Messages = append(conversation.Messages, message)
	if !message.SentAt.Time.Before(conversation.LastMessageTime.Time) {
		conversation.LastMessage = message.MessageContent
		conversation.LastMessageTime = message.SentAt
	}

	sortConversationsByActivity(s.conversations)
}
