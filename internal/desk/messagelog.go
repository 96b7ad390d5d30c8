package desk

import "github.com/naveenspark/supportdesk/pkg/domain"

// MessageLog is the ordered history of the selected room. Every insertion
// goes through the dedup gate, so no two entries are the same utterance.
type MessageLog struct {
	items []domain.Message
}

// Add appends m unless an equal message is already present. It reports
// whether m was appended.
func (l *MessageLog) Add(m domain.Message) bool {
	for _, existing := range l.items {
		if existing.SameAs(m) {
			return false
		}
	}
	l.items = append(l.items, m)
	return true
}

// Replace rebuilds the log from a fetched history, dropping duplicates.
func (l *MessageLog) Replace(history []domain.Message) {
	l.items = make([]domain.Message, 0, len(history))
	for _, m := range history {
		l.Add(m)
	}
}

// Reset empties the log.
func (l *MessageLog) Reset() { l.items = nil }

func (l MessageLog) Len() int { return len(l.items) }

// Items returns the messages in append order. The slice must not be modified.
func (l MessageLog) Items() []domain.Message { return l.items }
