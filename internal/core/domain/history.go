package domain

// HistoryLimit caps how many exchanges a session remembers.
const HistoryLimit = 10

// Exchange is one query/response turn.
type Exchange struct {
	Query    string `json:"query"`
	Response string `json:"response"`
}

// History is a bounded, oldest-first log of exchanges.
type History struct {
	Entries []Exchange `json:"entries"`
}

// Append records an exchange, evicting the oldest entry once the limit is reached.
func (h *History) Append(query, response string) {
	h.Entries = append(h.Entries, Exchange{Query: query, Response: response})
	if over := len(h.Entries) - HistoryLimit; over > 0 {
		h.Entries = append([]Exchange(nil), h.Entries[over:]...)
	}
}

// Snapshot returns a copy safe to hand to callers.
func (h History) Snapshot() []Exchange {
	out := make([]Exchange, len(h.Entries))
	copy(out, h.Entries)
	return out
}

// Len returns the number of stored exchanges.
func (h History) Len() int {
	return len(h.Entries)
}
