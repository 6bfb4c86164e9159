// Package cowrie reads the honeypot's JSON event log.
package cowrie

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Well-known Cowrie event ids.
const (
	EventCommandInput   = "cowrie.command.input"
	EventSessionConnect = "cowrie.session.connect"
	EventSessionClosed  = "cowrie.session.closed"
	EventLoginSuccess   = "cowrie.login.success"
	EventLoginFailed    = "cowrie.login.failed"
)

// maxFractionDigits bounds sub-second precision; time.Parse alone accepts any
// number of digits.
const maxFractionDigits = 6

// Accepted timestamp layouts: with and without sub-second precision, always UTC.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999Z",
	"2006-01-02T15:04:05Z",
}

// Entry is one parsed log record. The typed fields are lifted out of Fields,
// which keeps the full decoded object.
type Entry struct {
	EventID   string
	Session   string
	Timestamp time.Time
	Input     string
	SrcIP     string
	Fields    map[string]interface{}
}

// HasIdentity reports whether the entry carries the fields needed to attribute
// it to a session.
func (e Entry) HasIdentity() bool {
	return e.EventID != "" && e.Session != ""
}

// IsCommandInput reports whether the entry records a typed command.
func (e Entry) IsCommandInput() bool {
	return e.EventID == EventCommandInput
}

// ParseTimestamp parses a Cowrie timestamp in either accepted layout.
func ParseTimestamp(s string) (time.Time, error) {
	if dot := strings.IndexByte(s, '.'); dot >= 0 && len(strings.TrimSuffix(s[dot+1:], "Z")) > maxFractionDigits {
		return time.Time{}, fmt.Errorf("unrecognized timestamp format %q", s)
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format %q", s)
}

// NewEntry builds an Entry from a decoded JSON object. It fails when the
// timestamp is missing or unparseable.
func NewEntry(fields map[string]interface{}) (Entry, error) {
	raw, ok := fields["timestamp"]
	if !ok || raw == nil {
		return Entry{}, fmt.Errorf("missing timestamp")
	}
	s, ok := raw.(string)
	if !ok {
		return Entry{}, fmt.Errorf("timestamp is %T, not a string", raw)
	}
	ts, err := ParseTimestamp(s)
	if err != nil {
		return Entry{}, err
	}

	e := entryFromFields(fields)
	e.Timestamp = ts
	return e, nil
}

func entryFromFields(fields map[string]interface{}) Entry {
	return Entry{
		EventID: identityField(fields, "eventid"),
		Session: identityField(fields, "session"),
		Input:   stringField(fields, "input"),
		SrcIP:   stringField(fields, "src_ip"),
		Fields:  fields,
	}
}

func stringField(fields map[string]interface{}, key string) string {
	s, _ := fields[key].(string)
	return s
}

// identityField renders a session or event id of any JSON type as text, so a
// numeric id still groups its session. Null and absent give "".
func identityField(fields map[string]interface{}, key string) string {
	switch v := fields[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}
