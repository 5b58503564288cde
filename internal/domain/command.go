package domain

// CommandKind classifies an operator reply.
type CommandKind string

const (
	CommandRerun   CommandKind = "rerun"
	CommandDone    CommandKind = "done"
	CommandCat     CommandKind = "cat"
	CommandUnknown CommandKind = "unknown"
)

// ControlCommand is one classified reply. Text is only meaningful for
// CommandUnknown and holds the unrecognized reply verbatim.
type ControlCommand struct {
	Kind CommandKind
	Text string
}

var (
	Rerun = ControlCommand{Kind: CommandRerun}
	Done  = ControlCommand{Kind: CommandDone}
	Cat   = ControlCommand{Kind: CommandCat}
)

// Unknown wraps an unrecognized reply.
func Unknown(text string) ControlCommand {
	return ControlCommand{Kind: CommandUnknown, Text: text}
}

func (c ControlCommand) String() string {
	if c.Kind == CommandUnknown {
		return "unknown(" + c.Text + ")"
	}
	return string(c.Kind)
}
