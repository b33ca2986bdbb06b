package control

import (
	"errors"
	"strings"
)

var (
	ErrEmptyInstruction  = errors.New("control: empty instruction")
	ErrUnknownVerb       = errors.New("control: unknown verb")
	ErrMissingIdentifier = errors.New("control: kill requires a resource identifier")
)

// Verb is the first token of an instruction line.
type Verb string

const (
	VerbList Verb = "list"
	VerbKill Verb = "kill"
)

// Instruction is one parsed client request.
type Instruction struct {
	Verb     Verb
	Resource string
}

// ParseInstruction reads the first line of buf. The verb ends at the first
// space; for kill, the identifier runs up to the next space.
func ParseInstruction(buf []byte) (Instruction, error) {
	line, _, _ := strings.Cut(string(buf), "\n")
	line = strings.TrimSuffix(line, "\r")
	if line == "" {
		return Instruction{}, ErrEmptyInstruction
	}

	verb, rest, _ := strings.Cut(line, " ")
	switch Verb(verb) {
	case VerbList:
		return Instruction{Verb: VerbList}, nil
	case VerbKill:
		id, _, _ := strings.Cut(rest, " ")
		if id == "" {
			return Instruction{Verb: VerbKill}, ErrMissingIdentifier
		}
		return Instruction{Verb: VerbKill, Resource: id}, nil
	default:
		return Instruction{Verb: Verb(verb)}, ErrUnknownVerb
	}
}

// Encode renders the instruction as it travels on the wire.
func (i Instruction) Encode() []byte {
	if i.Verb == VerbKill {
		return []byte(string(VerbKill) + " " + i.Resource + "\n")
	}
	return []byte(string(i.Verb) + "\n")
}
