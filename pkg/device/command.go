package device

// CommandKind declares the response shape a command produces. The session
// reads exactly that shape and nothing more.
type CommandKind int

const (
	// KindLine expects a single newline-terminated response line.
	KindLine CommandKind = iota
	// KindInfo expects the ack, a header line, then key = value lines
	// until a literal END.
	KindInfo
	// KindConfirm expects the ack followed by a single literal
	// confirmation line.
	KindConfirm
	// KindNone expects no response at all.
	KindNone
)

// Command maps a logical name to the device token and response shape.
// Token may contain fmt verbs, filled from the query arguments.
type Command struct {
	Token   string
	Kind    CommandKind
	Header  string // expected info-block header, KindInfo only
	Confirm string // expected confirmation literal, KindConfirm only
}

// CommandTable maps logical command names (unique) to device commands.
type CommandTable map[string]Command

// Has reports whether every named command is present.
func (t CommandTable) Has(names ...string) bool {
	for _, name := range names {
		if _, ok := t[name]; !ok {
			return false
		}
	}
	return true
}
