package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrMalformed is wrapped by every Decode failure.
var ErrMalformed = errors.New("malformed conversation document")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// Encode serializes the collection as a compact JSON array with UTC timestamps.
func Encode(convs []Conversation) ([]byte, error) {
	return json.Marshal(normalizeForEncode(convs))
}

// EncodeIndent is Encode with two-space indentation, for documents people read.
func EncodeIndent(convs []Conversation) ([]byte, error) {
	return json.MarshalIndent(normalizeForEncode(convs), "", "  ")
}

func normalizeForEncode(convs []Conversation) []Conversation {
	out := make([]Conversation, len(convs))
	for i, c := range convs {
		out[i] = c.Clone()
		out[i].CreatedAt = c.CreatedAt.UTC()
	}
	return out
}

// Decode parses a JSON array of conversation records. It tolerates a missing
// id (a fresh one is generated), missing or non-array messages (empty) and a
// missing or unparseable createdAt (now). Anything else that is not
// conversation-shaped fails the whole document.
func Decode(data []byte, now time.Time) ([]Conversation, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, malformed("document is not a JSON array")
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, malformed("%v", err)
	}
	out := make([]Conversation, 0, len(raw))
	for i, r := range raw {
		c, err := decodeRecord(r, now)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func decodeRecord(data json.RawMessage, now time.Time) (Conversation, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return Conversation{}, malformed("record is not an object")
	}

	var c Conversation
	var err error
	if c.ID, err = decodeID(fields["id"]); err != nil {
		return Conversation{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	for name, dst := range map[string]any{
		"text":       &c.Text,
		"response":   &c.Response,
		"sentiment":  &c.Sentiment,
		"category":   &c.Category,
		"isQuestion": &c.IsQuestion,
	} {
		if err := decodeOptional(fields[name], dst); err != nil {
			return Conversation{}, malformed("field %q: %v", name, err)
		}
	}
	if c.Messages, err = decodeMessages(fields["messages"]); err != nil {
		return Conversation{}, err
	}
	c.CreatedAt = decodeTimestamp(fields["createdAt"], now)

	if isPresent(fields["metrics"]) {
		var m Metrics
		if err := json.Unmarshal(fields["metrics"], &m); err != nil {
			return Conversation{}, malformed("field %q: %v", "metrics", err)
		}
		c.Metrics = &m
	}
	return c, nil
}

func isPresent(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func decodeOptional(raw json.RawMessage, dst any) error {
	if !isPresent(raw) {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// decodeID accepts string and numeric ids; older documents used millisecond
// timestamps as ids.
func decodeID(raw json.RawMessage) (string, error) {
	if !isPresent(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", malformed("field %q must be a string or number", "id")
}

func decodeMessages(raw json.RawMessage) ([]Message, error) {
	if !isPresent(raw) || bytes.TrimSpace(raw)[0] != '[' {
		return []Message{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, malformed("field %q: %v", "messages", err)
	}
	out := make([]Message, 0, len(items))
	for i, item := range items {
		var m Message
		if err := json.Unmarshal(item, &m); err != nil || !isPresent(item) {
			return nil, malformed("message %d is not a {role, content} object", i)
		}
		if !m.Role.Valid() {
			return nil, malformed("message %d has unknown role %q", i, m.Role)
		}
		out = append(out, m)
	}
	return out, nil
}

// decodeTimestamp reads ISO-8601 strings or epoch milliseconds.
func decodeTimestamp(raw json.RawMessage, now time.Time) time.Time {
	if !isPresent(raw) {
		return now.UTC()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
		return now.UTC()
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if ms, err := n.Int64(); err == nil {
			return time.UnixMilli(ms).UTC()
		}
	}
	return now.UTC()
}
