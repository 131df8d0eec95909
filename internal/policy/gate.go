package policy

import (
	"context"
	"log/slog"

	"github.com/memohai/qqbridge/internal/onebot"
)

// Channel is the allow-list channel name used for QQ senders.
const Channel = "qq"

// AllowListReader reads persisted allow-list entries.
type AllowListReader interface {
	ReadAllowFrom(ctx context.Context, channel string) ([]string, error)
}

// Account carries the per-account policy configuration.
type Account struct {
	ID             string
	DMPolicy       string
	GroupPolicy    string
	AllowFrom      []string
	GroupAllowFrom []string
}

// Commands configures control-command handling.
type Commands struct {
	UseAccessGroups bool
	TextCommands    bool
	Prefix          string
}

// Verdict is the full outcome for one inbound message.
type Verdict struct {
	Decision
	CommandAuthorized bool
	HasControlCommand bool
	AllowFrom         []string
}

// Gate evaluates inbound messages against account policy.
type Gate struct {
	store    AllowListReader
	commands Commands
	logger   *slog.Logger
}

// NewGate creates a gate. store may be nil.
func NewGate(log *slog.Logger, store AllowListReader, commands Commands) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		store:    store,
		commands: commands,
		logger:   log.With(slog.String("component", "policy")),
	}
}

// Evaluate merges allow lists, authorizes commands, then applies the group
// or direct policy. Group messages carrying an unauthorized control command
// are denied even when the group policy admits them.
func (g *Gate) Evaluate(ctx context.Context, acct Account, msg onebot.ParsedMessage) Verdict {
	stored := g.readStore(ctx, acct.ID)
	allowFrom := MergeAllowFrom(acct.AllowFrom, stored)

	hasCommand := HasControlCommand(msg.RawBody, g.commands.Prefix)
	gate := ResolveCommandGate(CommandGateInput{
		UseAccessGroups:   g.commands.UseAccessGroups,
		Authorizers:       []Authorizer{SenderAuthorizer(allowFrom, msg.SenderID)},
		AllowTextCommands: g.commands.TextCommands,
		HasControlCommand: hasCommand,
	})

	verdict := Verdict{
		CommandAuthorized: gate.Authorized,
		HasControlCommand: hasCommand,
		AllowFrom:         allowFrom,
	}
	if msg.IsGroup() {
		groupAllow := allowFrom
		if len(acct.GroupAllowFrom) > 0 {
			groupAllow = MergeAllowFrom(acct.GroupAllowFrom, stored)
		}
		verdict.Decision = EvaluateGroup(GroupInput{
			Policy:     acct.GroupPolicy,
			AllowFrom:  groupAllow,
			SenderID:   msg.SenderID,
			SenderName: msg.SenderName,
		})
		if verdict.Allowed && gate.ShouldBlock {
			verdict.Decision = deny("control command (unauthorized)")
		}
		return verdict
	}
	verdict.Decision = EvaluateDirect(DirectInput{
		Policy:    acct.DMPolicy,
		AllowFrom: allowFrom,
		SenderID:  msg.SenderID,
	})
	return verdict
}

func (g *Gate) readStore(ctx context.Context, accountID string) []string {
	if g.store == nil {
		return nil
	}
	entries, err := g.store.ReadAllowFrom(ctx, Channel)
	if err != nil {
		g.logger.Warn("allow list store unavailable, using configured entries only",
			slog.String("account_id", accountID),
			slog.Any("error", err),
		)
		return nil
	}
	return entries
}
