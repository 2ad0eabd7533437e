package services

import (
	"sort"
	"strings"

	"github.com/RathijitAich/HomeChatBack/internal/models"
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// partnerOf resolves the non-local endpoint of a message from the current
// user's perspective. It returns false for self-addressed messages and for
// messages that do not involve the current user at all; such messages belong
// to no conversation.
func partnerOf(message models.Message, currentUserEmail string) (string, bool) {
	user := normalizeEmail(currentUserEmail)
	sender := normalizeEmail(message.SenderEmail)
	receiver := normalizeEmail(message.ReceiverEmail)

	switch {
	case sender == user && receiver != user:
		return message.ReceiverEmail, true
	case receiver == user && sender != user:
		return message.SenderEmail, true
	default:
		return "", false
	}
}

// BuildConversations derives the per-partner conversation list for one
// participant from an unordered flat message list. Emails are compared
// case-insensitively but displayed with the case first observed; invalid and
// self-addressed messages are dropped. The result is ordered by most recent
// activity, newest conversation first, with unparseable timestamps sorting
// as oldest.
func BuildConversations(allMessages []models.Message, currentUserEmail string) []models.Conversation {
	buckets := make(map[string]*models.Conversation)
	order := make([]string, 0)

	for _, message := range allMessages {
		if err := message.Validate(); err != nil {
			continue
		}

		partner, ok := partnerOf(message, currentUserEmail)
		if !ok {
			continue
		}

		key := normalizeEmail(partner)
		conversation, exists := buckets[key]
		if !exists {
			conversation = &models.Conversation{ParticipantEmail: partner}
			buckets[key] = conversation
			order = append(order, key)
		}

		conversation.Messages = append(conversation.Messages, message)
		if !message.SentAt.Time.Before(conversation.LastMessageTime.Time) {
			conversation.LastMessage = message.MessageContent
			conversation.LastMessageTime = message.SentAt
		}
	}

	conversations := make([]models.Conversation, 0, len(order))
	for _, key := range order {
		conversations = append(conversations, *buckets[key])
	}

	sortConversationsByActivity(conversations)

	return conversations
}

func sortConversationsByActivity(conversations []models.Conversation) {
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[j].LastMessageTime.Time.Before(conversations[i].LastMessageTime.Time)
	})
}

// SortMessagesChronological orders messages oldest first for display,
// the opposite of the conversation-list ordering.
func SortMessagesChronological(messages []models.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].SentAt.Time.Before(messages[j].SentAt.Time)
	})
}

// BelongsToConversation reports whether an incoming message is part of the
// two-party conversation between userEmail and partnerEmail: its sender and
// receiver must equal that pair as a set, case-insensitively.
func BelongsToConversation(incoming models.Message, userEmail, partnerEmail string) bool {
	user := normalizeEmail(userEmail)
	partner := normalizeEmail(partnerEmail)
	if user == "" || partner == "" || user == partner {
		return false
	}

	sender := normalizeEmail(incoming.SenderEmail)
	receiver := normalizeEmail(incoming.ReceiverEmail)
	return (sender == user && receiver == partner) ||
		(sender == partner && receiver == user)
}

// IsDuplicate reports whether the incoming message is already present.
// Matching ids win when both sides have one; otherwise two messages with the
// same content, case-insensitive sender, and sentAt are treated as one
// delivery. Broker redeliveries must never produce a visible double message.
func IsDuplicate(existing []models.Message, incoming models.Message) bool {
	for _, message := range existing {
		if incoming.ID != "" && message.ID != "" {
			if incoming.ID == message.ID {
				return true
			}
			continue
		}
		if message.MessageContent == incoming.MessageContent &&
			normalizeEmail(message.SenderEmail) == normalizeEmail(incoming.SenderEmail) &&
			message.SentAt.Time.Equal(incoming.SentAt.Time) {
			return true
		}
	}
	return false
}
