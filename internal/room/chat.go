package room

import "github.com/MayoPickle/tofu-chillsync/internal/domain"

// chatHistory keeps the most recent messages, evicting the oldest first.
type chatHistory struct {
	limit int
	msgs  []domain.ChatMessage
}

func newChatHistory(limit int) *chatHistory {
	return &chatHistory{limit: limit, msgs: make([]domain.ChatMessage, 0, min(limit, 64))}
}

func (h *chatHistory) add(m domain.ChatMessage) {
	if h.limit <= 0 {
		return
	}
	if len(h.msgs) >= h.limit {
		n := copy(h.msgs, h.msgs[len(h.msgs)-h.limit+1:])
		h.msgs = h.msgs[:n]
	}
	h.msgs = append(h.msgs, m)
}

func (h *chatHistory) len() int {
	return len(h.msgs)
}

func (h *chatHistory) snapshot() []domain.ChatMessage {
	out := make([]domain.ChatMessage, len(h.msgs))
	copy(out, h.msgs)
	return out
}
