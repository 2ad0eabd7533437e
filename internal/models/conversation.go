package models

// Conversation is the derived per-partner view of all messages exchanged with
// one counterpart. It is rebuilt from the flat message list and never
// persisted; ParticipantEmail keeps the case of the first message observed
// for that partner.
type Conversation struct {
	ParticipantEmail string    `json:"participantEmail"`
	Messages         []Message `json:"messages"`
	LastMessage      string    `json:"lastMessage"`
	LastMessageTime  Timestamp `json:"lastMessageTime"`
}

type ConversationSummary struct {
	ParticipantEmail string    `json:"participantEmail"`
	LastMessage      string    `json:"lastMessage"`
	LastMessageTime  Timestamp `json:"lastMessageTime"`
	MessageCount     int       `json:"messageCount"`
}

func (c *Conversation) Summary() ConversationSummary {
	return ConversationSummary{
		ParticipantEmail: c.ParticipantEmail,
		LastMessage:      c.LastMessage,
		LastMessageTime:  c.LastMessageTime,
		MessageCount:     len(c.Messages),
	}
}
