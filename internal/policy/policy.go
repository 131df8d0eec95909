// Package policy decides whether an inbound QQ message may be forwarded and
// whether its sender may issue control commands.
package policy

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrPolicyDenied marks a message dropped by policy.
var ErrPolicyDenied = errors.New("policy: message denied")

// Policy values for direct and group messages.
const (
	Open      = "open"
	Allowlist = "allowlist"
	Pairing   = "pairing"
	Disabled  = "disabled"
)

// Decision is the outcome of a policy check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Err returns nil when allowed, otherwise ErrPolicyDenied with the reason.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPolicyDenied, d.Reason)
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// MergeAllowFrom unions configured and stored allow lists, dropping blank
// entries and duplicates.
func MergeAllowFrom(lists ...[]string) []string {
	seen := map[string]struct{}{}
	merged := make([]string, 0)
	for _, list := range lists {
		for _, raw := range list {
			id := normalizeEntry(raw)
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, id)
		}
	}
	return merged
}

// normalizeEntry trims whitespace and a leading "qq:" scheme.
func normalizeEntry(raw string) string {
	id := strings.TrimSpace(raw)
	if len(id) > 3 && strings.EqualFold(id[:3], "qq:") {
		id = strings.TrimSpace(id[3:])
	}
	return id
}

// Contains reports whether senderID is listed.
func Contains(list []string, senderID string) bool {
	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return false
	}
	return slices.Contains(list, senderID)
}

// GroupInput is the input to EvaluateGroup.
type GroupInput struct {
	Policy     string
	AllowFrom  []string
	SenderID   string
	SenderName string
}

// EvaluateGroup applies the group policy. An allowlist policy with an empty
// list blocks every sender.
func EvaluateGroup(in GroupInput) Decision {
	switch in.Policy {
	case Open:
		return allow()
	case Disabled:
		return deny("group messages are disabled")
	case Allowlist:
		if len(in.AllowFrom) == 0 {
			return deny("allowlist is empty, all group messages are blocked")
		}
		if Contains(in.AllowFrom, in.SenderID) {
			return allow()
		}
		return deny(fmt.Sprintf("sender %s (%s) not in allowlist", in.SenderName, in.SenderID))
	default:
		return deny("unknown group policy: " + in.Policy)
	}
}

// DirectInput is the input to EvaluateDirect.
type DirectInput struct {
	Policy    string
	AllowFrom []string
	SenderID  string
}

// EvaluateDirect applies the direct message policy. Any policy other than
// open admits everyone while the list is empty, and listed senders otherwise.
func EvaluateDirect(in DirectInput) Decision {
	if in.Policy == Open {
		return allow()
	}
	if len(in.AllowFrom) == 0 || Contains(in.AllowFrom, in.SenderID) {
		return allow()
	}
	return deny(fmt.Sprintf("sender %s not in allowlist (dm policy %s)", in.SenderID, in.Policy))
}
