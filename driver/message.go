package driver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mcsakoff/go-owbus"
)

// Message is a request or response object exchanged with the broker.
// Responses are the request with result fields merged in.
type Message map[string]interface{}

// ID returns the id field.
func (m Message) ID() string {
	s, _ := m["id"].(string)
	return s
}

func (m Message) str(key string) (string, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	default:
		return fmt.Sprint(t), true
	}
}

func (m Message) flag(key string) bool {
	switch t := m[key].(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return false
}

// byteValue reads a byte sized number given as a JSON/YAML number or as a
// decimal, 0x hex or 0b binary string.
func (m Message) byteValue(key string) (byte, bool, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	var n int64
	switch t := v.(type) {
	case float64:
		n = int64(t)
	case int:
		n = int64(t)
	case int64:
		n = t
	case uint8:
		n = int64(t)
	case string:
		b, err := owbus.ParseOperand(t)
		return b, true, err
	default:
		return 0, true, fmt.Errorf("invalid %s %v", key, v)
	}
	if n < 0 || n > 0xff {
		return 0, true, fmt.Errorf("%s %d out of range", key, n)
	}
	return byte(n), true, nil
}

// reply copies m and merges fields into the copy.
func (m Message) reply(fields Message) Message {
	out := make(Message, len(m)+len(fields))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func (m Message) fail(err error) Message {
	kind := owbus.KindOf(err)
	name := "Error"
	if kind != 0 {
		name = kind.String()
	}
	return m.reply(Message{"err": err.Error(), "kind": name})
}

func normalize(id string) string {
	return strings.TrimSpace(id)
}

// family reads a family code; strings are hex with or without 0x.
func (m Message) family() (*byte, error) {
	v, ok := m["family"]
	if !ok || v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok {
		s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
		n, err := strconv.ParseUint(s, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid family %q", v)
		}
		f := byte(n)
		return &f, nil
	}
	f, _, err := m.byteValue("family")
	if err != nil {
		return nil, err
	}
	return &f, nil
}
