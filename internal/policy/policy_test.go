package policy

import (
	"errors"
	"strings"
	"testing"
)

func TestEvaluateGroupMatrix(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		in         GroupInput
		allowed    bool
		reasonPart string
	}{
		{
			name:       "disabled denies everyone",
			in:         GroupInput{Policy: Disabled, AllowFrom: []string{"123"}, SenderID: "123"},
			reasonPart: "group messages are disabled",
		},
		{
			name:       "allowlist empty",
			in:         GroupInput{Policy: Allowlist, SenderID: "123"},
			reasonPart: "allowlist is empty",
		},
		{
			name:    "allowlist member",
			in:      GroupInput{Policy: Allowlist, AllowFrom: []string{"123"}, SenderID: "123"},
			allowed: true,
		},
		{
			name:       "allowlist non member",
			in:         GroupInput{Policy: Allowlist, AllowFrom: []string{"123"}, SenderID: "456", SenderName: "Bob"},
			reasonPart: "sender Bob (456) not in allowlist",
		},
		{
			name:    "open",
			in:      GroupInput{Policy: Open, SenderID: "1"},
			allowed: true,
		},
		{
			name:       "unknown policy",
			in:         GroupInput{Policy: "friends", SenderID: "1"},
			reasonPart: "unknown group policy: friends",
		},
	}
	for _, tc := range cases {
		got := EvaluateGroup(tc.in)
		if got.Allowed != tc.allowed {
			t.Fatalf("%s: allowed = %v, want %v", tc.name, got.Allowed, tc.allowed)
		}
		if !tc.allowed && !strings.Contains(got.Reason, tc.reasonPart) {
			t.Fatalf("%s: reason %q does not mention %q", tc.name, got.Reason, tc.reasonPart)
		}
		if tc.allowed && got.Reason != "" {
			t.Fatalf("%s: allowed decision carries reason %q", tc.name, got.Reason)
		}
	}
}

func TestEvaluateDirect(t *testing.T) {
	t.Parallel()

	if !EvaluateDirect(DirectInput{Policy: Open, AllowFrom: []string{"1"}, SenderID: "999"}).Allowed {
		t.Fatalf("open dm policy must allow any sender")
	}
	if !EvaluateDirect(DirectInput{Policy: Allowlist, SenderID: "999"}).Allowed {
		t.Fatalf("empty allow list admits everyone")
	}
	if !EvaluateDirect(DirectInput{Policy: Pairing, AllowFrom: []string{"999"}, SenderID: "999"}).Allowed {
		t.Fatalf("listed sender must be allowed")
	}
	d := EvaluateDirect(DirectInput{Policy: Allowlist, AllowFrom: []string{"1"}, SenderID: "999"})
	if d.Allowed || !errors.Is(d.Err(), ErrPolicyDenied) {
		t.Fatalf("unlisted sender must be denied: %+v", d)
	}
}

func TestMergeAllowFrom(t *testing.T) {
	t.Parallel()

	got := MergeAllowFrom([]string{" 123 ", "", "qq:456"}, []string{"456", "  ", "789"})
	want := []string{"123", "456", "789"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("MergeAllowFrom = %v, want %v", got, want)
	}
	if len(MergeAllowFrom(nil, nil)) != 0 {
		t.Fatalf("expected empty merge")
	}
}
