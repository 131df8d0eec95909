package policy

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultCommandPrefix introduces a control command.
const DefaultCommandPrefix = "/"

// Authorizer is one source that may authorize a sender for commands.
type Authorizer struct {
	Allowed bool
}

// CommandGateInput is the input to ResolveCommandGate.
type CommandGateInput struct {
	UseAccessGroups   bool
	Authorizers       []Authorizer
	AllowTextCommands bool
	HasControlCommand bool
}

// CommandGate is the outcome of command authorization.
type CommandGate struct {
	Authorized  bool
	ShouldBlock bool
}

// ResolveCommandGate authorizes a sender for control commands. With access
// groups off every sender is authorized; otherwise any allowing authorizer
// suffices. Unauthorized messages carrying a command are marked for blocking
// when text commands are handled.
func ResolveCommandGate(in CommandGateInput) CommandGate {
	authorized := !in.UseAccessGroups
	for _, a := range in.Authorizers {
		if a.Allowed {
			authorized = true
			break
		}
	}
	return CommandGate{
		Authorized:  authorized,
		ShouldBlock: in.AllowTextCommands && in.HasControlCommand && !authorized,
	}
}

// SenderAuthorizer authorizes a sender listed in allowFrom, or anyone when
// the list is empty.
func SenderAuthorizer(allowFrom []string, senderID string) Authorizer {
	return Authorizer{Allowed: len(allowFrom) == 0 || Contains(allowFrom, senderID)}
}

// HasControlCommand reports whether text starts with prefix followed by a
// command name, ignoring leading mentions and CQ codes.
func HasControlCommand(text, prefix string) bool {
	if prefix == "" {
		prefix = DefaultCommandPrefix
	}
	s := strings.TrimSpace(text)
	for s != "" {
		switch {
		case strings.HasPrefix(s, "[CQ:"):
			end := strings.IndexByte(s, ']')
			if end < 0 {
				return false
			}
			s = strings.TrimSpace(s[end+1:])
		case strings.HasPrefix(s, "@"):
			end := strings.IndexFunc(s, unicode.IsSpace)
			if end < 0 {
				return false
			}
			s = strings.TrimSpace(s[end:])
		default:
			if !strings.HasPrefix(s, prefix) {
				return false
			}
			r, _ := utf8.DecodeRuneInString(s[len(prefix):])
			return unicode.IsLetter(r)
		}
	}
	return false
}
