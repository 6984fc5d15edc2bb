package message

import "time"

// Reaction is a single emoji reaction on a message. A message holds at most
// one reaction per (reactor, emoji) pair.
type Reaction struct {
	Emoji     string    `json:"emoji"`
	ReactorID string    `json:"reactor_id"`
	ReactedAt time.Time `json:"reacted_at"`
}

// Message is a persisted chat message. AuthorID never changes after
// creation; only the author may edit or delete the message.
type Message struct {
	ID         string     `json:"id"`
	AuthorID   string     `json:"author_id"`
	AuthorName string     `json:"author_name"`
	Body       string     `json:"body"`
	CreatedAt  time.Time  `json:"created_at"`
	EditedAt   *time.Time `json:"edited_at,omitempty"`
	Reactions  []Reaction `json:"reactions,omitempty"`
}

// HasReaction reports whether the message already carries a reaction from
// reactorID with the given emoji.
func (m *Message) HasReaction(reactorID, emoji string) bool {
	for _, r := range m.Reactions {
		if r.ReactorID == reactorID && r.Emoji == emoji {
			return true
		}
	}
	return false
}
