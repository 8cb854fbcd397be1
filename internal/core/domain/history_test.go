package domain

import (
	"fmt"
	"testing"
)

func TestHistory_Append(t *testing.T) {
	tests := []struct {
		name      string
		inserts   int
		wantLen   int
		wantFirst string
		wantLast  string
	}{
		{name: "below limit keeps everything", inserts: 3, wantLen: 3, wantFirst: "q1", wantLast: "q3"},
		{name: "exactly at limit", inserts: HistoryLimit, wantLen: HistoryLimit, wantFirst: "q1", wantLast: "q10"},
		{name: "eleventh insert evicts the first", inserts: HistoryLimit + 1, wantLen: HistoryLimit, wantFirst: "q2", wantLast: "q11"},
		{name: "many inserts stay bounded", inserts: 25, wantLen: HistoryLimit, wantFirst: "q16", wantLast: "q25"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var h History
			for i := 1; i <= tc.inserts; i++ {
				h.Append(fmt.Sprintf("q%d", i), fmt.Sprintf("r%d", i))
			}
			if h.Len() != tc.wantLen {
				t.Fatalf("len: got %d, want %d", h.Len(), tc.wantLen)
			}
			if got := h.Entries[0].Query; got != tc.wantFirst {
				t.Fatalf("first: got %q, want %q", got, tc.wantFirst)
			}
			if got := h.Entries[h.Len()-1].Query; got != tc.wantLast {
				t.Fatalf("last: got %q, want %q", got, tc.wantLast)
			}
		})
	}
}

func TestHistory_SnapshotIsACopy(t *testing.T) {
	var h History
	h.Append("hello", "hi")

	snap := h.Snapshot()
	snap[0].Response = "changed"

	if h.Entries[0].Response != "hi" {
		t.Fatalf("snapshot aliased the history: %q", h.Entries[0].Response)
	}
}
