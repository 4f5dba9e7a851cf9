package bulk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexString accepts a JSON string or number. Spreadsheet exports send
// phone numbers as numbers.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = FlexString(n.String())
	return nil
}

// Contact is one recipient of a bulk job.
type Contact struct {
	Index  int             `json:"index"`
	Name   string          `json:"name"`
	Phone  FlexString      `json:"phone"`
	Status string          `json:"status"`
	Row    json.RawMessage `json:"row,omitempty"`
}

// normalizeContacts trims fields and fills defaults: a 1-based index, a
// "Contact <n>" name, "Pending" status, and the spreadsheet row (index+1,
// since row 1 holds headers).
func normalizeContacts(in []Contact) []Contact {
	out := make([]Contact, len(in))
	for i, c := range in {
		c.Index = i + 1
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			c.Name = fmt.Sprintf("Contact %d", i+1)
		}
		c.Phone = FlexString(strings.TrimSpace(string(c.Phone)))
		c.Status = strings.TrimSpace(c.Status)
		if c.Status == "" {
			c.Status = "Pending"
		}
		if len(c.Row) == 0 || string(c.Row) == "null" {
			c.Row = json.RawMessage(strconv.Itoa(i + 2))
		}
		out[i] = c
	}
	return out
}
