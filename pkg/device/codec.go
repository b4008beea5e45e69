package device

import (
	"strings"
)

// Wrapper frames a command token for transmission. Each device family fixes
// its pre/post tokens for the session lifetime: mounts use ":" and "#",
// FocusLynx hubs use "<" and ">".
type Wrapper struct {
	Pre  string
	Post string
}

func (w Wrapper) Encode(token string) []byte {
	return []byte(w.Pre + token + w.Post)
}

// Field is a single key/value pair from an info block. Order of fields is
// preserved as received from the device.
type Field struct {
	Key   string
	Value string
}

// InfoBlock is a structured multi-line response bounded by a header line
// and a literal END terminator.
type InfoBlock []Field

// Get returns the value for key, and whether the block contains it.
func (b InfoBlock) Get(key string) (string, bool) {
	for _, f := range b {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// parseField splits a "key = value" line on the first '=' and trims both
// sides. A line with no '=' is a protocol error.
func parseField(line string) (Field, error) {
	key, value, found := strings.Cut(line, "=")
	if !found {
		return Field{}, &ProtocolError{Line: line, Want: "key = value"}
	}
	return Field{
		Key:   strings.TrimSpace(key),
		Value: strings.TrimSpace(value),
	}, nil
}
