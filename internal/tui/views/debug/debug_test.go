package debug

import (
	"fmt"
	"strings"
	"testing"
)

func TestAddAndCount(t *testing.T) {
	m := New()
	m.Add(KindConn, "connected")
	m.Add(KindFilter, `filter "a" applied`)
	m.Add(KindError, "boom")

	if len(m.Entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(m.Entries))
	}
	if m.Entries[1].Kind != KindFilter {
		t.Errorf("kind = %q, want flt", m.Entries[1].Kind)
	}
	if m.Count(KindError) != 1 || m.Count(KindUpstream) != 0 {
		t.Errorf("counts err=%d up=%d", m.Count(KindError), m.Count(KindUpstream))
	}
}

func TestRepeatsCollapse(t *testing.T) {
	m := New()
	for i := 0; i < 4; i++ {
		m.Add(KindConn, "disconnected: connection refused")
	}
	m.Add(KindConn, "connected")

	if len(m.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(m.Entries))
	}
	if m.Entries[0].Repeat != 4 {
		t.Errorf("repeat = %d, want 4", m.Entries[0].Repeat)
	}
	if m.Count(KindConn) != 5 {
		t.Errorf("count = %d, want 5", m.Count(KindConn))
	}
	if v := m.View(100, 20); !strings.Contains(v, "(x4)") {
		t.Errorf("view should show the repeat count:\n%s", v)
	}
}

func TestEntriesCapped(t *testing.T) {
	m := New()
	for i := 0; i < maxEntries+50; i++ {
		m.Add(KindConn, fmt.Sprint("msg ", i))
	}
	if len(m.Entries) != maxEntries {
		t.Errorf("entries = %d, want %d", len(m.Entries), maxEntries)
	}
}

func TestScroll(t *testing.T) {
	m := New()
	for i := 0; i < 5; i++ {
		m.Add(KindConn, string(rune('a'+i)))
	}
	m.ScrollUp(2)
	if m.Offset != 2 {
		t.Errorf("offset = %d, want 2", m.Offset)
	}
	m.ScrollUp(100)
	if m.Offset != 4 {
		t.Errorf("offset = %d, want capped at 4", m.Offset)
	}
	m.ScrollDown(10)
	if m.Offset != 0 {
		t.Errorf("offset = %d, want 0", m.Offset)
	}

	m.ScrollUp(3)
	m.Add(KindError, "new")
	if m.Offset != 0 {
		t.Error("a new entry should scroll back to the newest")
	}
}

func TestViewEmpty(t *testing.T) {
	if v := New().View(80, 20); !strings.Contains(v, "Nothing logged") {
		t.Errorf("empty view:\n%s", v)
	}
}

func TestViewShowsSummaryAndEntries(t *testing.T) {
	m := New()
	m.Add(KindUpstream, "upstream streaming")
	m.Add(KindError, "timeout")
	v := m.View(100, 20)
	for _, want := range []string{"upstream streaming", "timeout", "up 1", "err 1", "ws 0"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q:\n%s", want, v)
		}
	}
}
