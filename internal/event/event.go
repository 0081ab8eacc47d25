// Package event defines the immutable record that flows from the upstream
// feed through the dispatcher to every matching session.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNoText is returned by Decode for messages that carry no text field.
// Streaming APIs interleave keep-alives, limit notices and delete markers
// with real messages; callers skip these rather than treating them as
// failures.
var ErrNoText = errors.New("event: message has no text")

// Event is one unit of streamed data. It is created once by the ingestor and
// then shared read-only by every session it is delivered to. Payload holds
// the original upstream object and must not be modified.
type Event struct {
	ID         string          `json:"id"`
	Text       string          `json:"text"`
	Author     string          `json:"author,omitempty"`
	CreatedAt  time.Time       `json:"createdAt,omitzero"`
	ReceivedAt time.Time       `json:"receivedAt"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// upstream is the superset of field names seen on common streaming feeds.
// Generic feeds send id/text/author; twitter-shaped feeds send id_str,
// text and a nested user object.
type upstream struct {
	ID        json.RawMessage `json:"id"`
	IDStr     string          `json:"id_str"`
	Text      string          `json:"text"`
	FullText  string          `json:"full_text"`
	Author    string          `json:"author"`
	CreatedAt string          `json:"created_at"`
	User      *struct {
		ScreenName string `json:"screen_name"`
		Name       string `json:"name"`
	} `json:"user"`
}

// Decode parses one raw upstream message. receivedAt is stamped on the
// event as the ingest time. The raw bytes are copied into Payload, so the
// caller may reuse its buffer.
func Decode(raw []byte, receivedAt time.Time) (Event, error) {
	var u upstream
	if err := json.Unmarshal(raw, &u); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}

	text := u.Text
	if u.FullText != "" {
		text = u.FullText
	}
	if text == "" {
		return Event{}, ErrNoText
	}

	ev := Event{
		ID:         decodeID(u.IDStr, u.ID),
		Text:       text,
		Author:     u.Author,
		ReceivedAt: receivedAt,
		Payload:    bytes.Clone(raw),
	}
	if ev.Author == "" && u.User != nil {
		ev.Author = u.User.ScreenName
		if ev.Author == "" {
			ev.Author = u.User.Name
		}
	}
	if u.CreatedAt != "" {
		ev.CreatedAt = parseTime(u.CreatedAt)
	}
	return ev, nil
}

// decodeID prefers the string form of an id; numeric ids above 2^53 lose
// precision as JSON numbers, which is why feeds send id_str alongside.
func decodeID(idStr string, id json.RawMessage) string {
	if idStr != "" {
		return idStr
	}
	if len(id) == 0 || string(id) == "null" {
		return ""
	}
	if s, err := strconv.Unquote(string(id)); err == nil {
		return s
	}
	return strings.TrimSpace(string(id))
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RubyDate, // Mon Jan 02 15:04:05 -0700 2006
	time.UnixDate,
}

// parseTime returns the zero time when no layout matches; the creation
// time is informational only.
func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
