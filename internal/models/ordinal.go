// internal/models/ordinal.go
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Ordinal is a scene or frame number. Generation backends are inconsistent about
// its encoding, so it accepts JSON numbers, numeric strings and labels like "Scene 3".
type Ordinal int

// UnmarshalJSON implements json.Unmarshaler
func (o *Ordinal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = 0
		return nil
	}

	if data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		if strings.TrimSpace(text) == "" {
			*o = 0
			return nil
		}
		n, ok := ParseLabelNumber(text)
		if !ok {
			return fmt.Errorf("ordinal %q has no number", text)
		}
		*o = Ordinal(n)
		return nil
	}

	var number float64
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("ordinal: %w", err)
	}
	*o = Ordinal(int(number))
	return nil
}

// ParseLabelNumber extracts the number from a display label such as "Scene 3" or
// "Frame 12:". The first whitespace separated token that parses as an integer wins.
func ParseLabelNumber(label string) (int, bool) {
	for _, token := range strings.Fields(label) {
		token = strings.TrimRight(token, ":.,;)-#")
		token = strings.TrimLeft(token, "#(")
		if n, err := strconv.Atoi(token); err == nil {
			return n, true
		}
	}
	return 0, false
}
