package outbound

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidTarget indicates a target that is not a numeric QQ id.
var ErrInvalidTarget = errors.New("invalid qq target")

// TargetKind selects the send action for a target.
type TargetKind string

const (
	TargetUser  TargetKind = "user"
	TargetGroup TargetKind = "group"
)

// Target is a normalised outbound destination.
type Target struct {
	Kind TargetKind
	ID   int64
}

func (t Target) String() string {
	if t.Kind == TargetGroup {
		return "group:" + strconv.FormatInt(t.ID, 10)
	}
	return strconv.FormatInt(t.ID, 10)
}

// NormalizeTarget strips the qq:, user: and group: prefixes. A group: prefix
// anywhere in the chain selects a group target; "qq:group:1" is accepted so
// routing addresses can be answered directly.
func NormalizeTarget(input string) (Target, error) {
	rest := strings.TrimSpace(input)
	kind := TargetUser
	for {
		lower := strings.ToLower(rest)
		switch {
		case strings.HasPrefix(lower, "qq:"):
			rest = rest[len("qq:"):]
			continue
		case strings.HasPrefix(lower, "user:"):
			rest = rest[len("user:"):]
			continue
		case strings.HasPrefix(lower, "group:"):
			rest = rest[len("group:"):]
			kind = TargetGroup
			continue
		}
		break
	}
	rest = strings.TrimSpace(rest)
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return Target{}, fmt.Errorf("%w: %q", ErrInvalidTarget, input)
	}
	return Target{Kind: kind, ID: id}, nil
}
