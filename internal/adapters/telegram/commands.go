package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"reposter/internal/engine"
	"reposter/internal/repost"
	"reposter/internal/store"
	"reposter/internal/transport"
	"reposter/pkg/logx"
)

const cmdTimeout = 10 * time.Second

const helpText = `Commands:
/add <source> <destination> [interval] [strip|replace=TEXT] — create a relay rule
/rules — list your rules
/toggle_N — pause or resume rule N
/delete_N — remove rule N
/wipe — remove every rule

Sources and destinations accept @username, t.me links or chat ids.
An interval in minutes batches messages instead of relaying instantly.`

func (a *Adapter) registerCommands() {
	a.bot.Handle("/start", a.cmdStart)
	a.bot.Handle("/help", a.cmdHelp)
	a.bot.Handle("/add", a.cmdAdd)
	a.bot.Handle("/rules", a.cmdRules)
	a.bot.Handle("/toggle", a.cmdToggle)
	a.bot.Handle("/delete", a.cmdDelete)
	a.bot.Handle("/wipe", a.cmdWipe)
	// /toggle_3 and /delete_3 arrive as plain text.
	a.bot.Handle(tele.OnText, a.onText)
}

func (a *Adapter) cmdStart(c tele.Context) error {
	ctx, cancel := cmdContext()
	defer cancel()

	sender := c.Sender()
	if sender == nil {
		return nil
	}
	if _, err := a.eng.RegisterTenant(ctx, sender.ID, sender.Username); err != nil {
		return a.replyErr(c, "registration failed", err)
	}
	// The bot itself is the session; linking it wakes any recoverable rules.
	if err := a.eng.LinkCredential(ctx, sender.ID, "bot"); err != nil {
		return a.replyErr(c, "registration failed", err)
	}
	return c.Send("👋 Registered. Add the bot to your source and destination chats, then create a rule.\n\n"+helpText, tele.NoPreview)
}

func (a *Adapter) cmdHelp(c tele.Context) error {
	return c.Send(helpText, tele.NoPreview)
}

func (a *Adapter) cmdAdd(c tele.Context) error {
	ctx, cancel := cmdContext()
	defer cancel()

	p, err := parseAddArgs(c.Sender().ID, c.Message().Payload)
	if err != nil {
		return c.Send("Usage: /add <source> <destination> [interval] [strip|replace=TEXT]\n" + err.Error())
	}

	rule, err := a.eng.AddRule(ctx, p)
	switch {
	case err == nil:
		return c.Send(fmt.Sprintf("✅ Rule %d: %s", rule.ID, describeRule(rule)), tele.NoPreview)
	case errors.Is(err, engine.ErrUnresolvable):
		return c.Send("I could not understand that source or destination. Use @username, a t.me link or a chat id.")
	case errors.Is(err, engine.ErrRuleLimit):
		return c.Send("You reached the rule limit. Delete one with /delete_N first.")
	case errors.Is(err, transport.ErrUnsupported):
		return c.Send("Invite links cannot be joined automatically. Add the bot to the chat and use its id or username instead.")
	default:
		return a.replyErr(c, "rule creation failed", err)
	}
}

func (a *Adapter) cmdRules(c tele.Context) error {
	ctx, cancel := cmdContext()
	defer cancel()

	rules, err := a.eng.ListRules(ctx, c.Sender().ID)
	if err != nil {
		return a.replyErr(c, "listing rules failed", err)
	}
	if len(rules) == 0 {
		return c.Send("No rules yet. Create one with /add.")
	}

	var b strings.Builder
	for _, r := range rules {
		fmt.Fprintf(&b, "%s %d: %s  /toggle_%d /delete_%d\n",
			statusIcon(r.Status), r.ID, describeRule(r), r.ID, r.ID)
	}
	return c.Send(b.String(), tele.NoPreview)
}

func (a *Adapter) cmdToggle(c tele.Context) error {
	return a.toggleByRef(c, c.Message().Payload)
}

func (a *Adapter) cmdDelete(c tele.Context) error {
	return a.deleteByRef(c, c.Message().Payload)
}

func (a *Adapter) cmdWipe(c tele.Context) error {
	ctx, cancel := cmdContext()
	defer cancel()

	n, err := a.eng.DeleteAll(ctx, c.Sender().ID)
	if err != nil {
		return a.replyErr(c, "wipe failed", err)
	}
	return c.Send(fmt.Sprintf("🧹 Removed %d rule(s).", n))
}

// onText routes the /toggle_N and /delete_N shorthand; any other text is
// ignored so group chatter never triggers replies.
func (a *Adapter) onText(c tele.Context) error {
	text := strings.TrimSpace(c.Text())
	switch {
	case strings.HasPrefix(text, "/toggle_"):
		return a.toggleByRef(c, strings.TrimPrefix(text, "/toggle_"))
	case strings.HasPrefix(text, "/delete_"):
		return a.deleteByRef(c, strings.TrimPrefix(text, "/delete_"))
	}
	return nil
}

func (a *Adapter) toggleByRef(c tele.Context, ref string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	id, err := engine.ParseRuleRef(ref)
	if err != nil {
		return c.Send("Usage: /toggle_N (see /rules for N).")
	}
	rule, err := a.eng.ToggleRule(ctx, c.Sender().ID, id)
	if errors.Is(err, store.ErrNotFound) {
		return c.Send("No such rule. See /rules.")
	}
	if err != nil {
		return a.replyErr(c, "toggle failed", err)
	}
	if rule.Status == repost.StatusActive {
		return c.Send(fmt.Sprintf("▶️ Rule %d resumed.", rule.ID))
	}
	return c.Send(fmt.Sprintf("⏸ Rule %d paused. Queued batches were discarded.", rule.ID))
}

func (a *Adapter) deleteByRef(c tele.Context, ref string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	id, err := engine.ParseRuleRef(ref)
	if err != nil {
		return c.Send("Usage: /delete_N (see /rules for N).")
	}
	err = a.eng.DeleteRule(ctx, c.Sender().ID, id)
	if errors.Is(err, store.ErrNotFound) {
		return c.Send("No such rule. See /rules.")
	}
	if err != nil {
		return a.replyErr(c, "delete failed", err)
	}
	return c.Send(fmt.Sprintf("🗑 Rule %d removed.", id))
}

func (a *Adapter) replyErr(c tele.Context, what string, err error) error {
	a.log.Warn(what, logx.Int64("tenant", c.Sender().ID), logx.Err(err))
	return c.Send("Something went wrong, please try again.")
}

func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), cmdTimeout)
}

// parseAddArgs understands "/add <source> <dest> [interval] [strip|replace=TEXT]".
func parseAddArgs(tenantID int64, payload string) (engine.AddRuleParams, error) {
	fields := strings.Fields(payload)
	if len(fields) < 2 {
		return engine.AddRuleParams{}, errors.New("a source and a destination are required")
	}
	p := engine.AddRuleParams{
		TenantID:    tenantID,
		Source:      fields[0],
		Destination: fields[1],
	}
	for _, f := range fields[2:] {
		switch {
		case f == "strip":
			p.Filter = repost.FilterStrip
		case strings.HasPrefix(f, "replace="):
			p.Filter = repost.FilterReplace
			p.Replacement = strings.TrimPrefix(f, "replace=")
		default:
			n, err := strconv.Atoi(f)
			if err != nil || n < 0 {
				return engine.AddRuleParams{}, fmt.Errorf("unknown option %q", f)
			}
			p.IntervalMin = n
		}
	}
	return p, nil
}

func describeRule(r repost.Rule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s → %s", displayIdentifier(r.Source), displayIdentifier(r.Destination))
	if r.IntervalMin > 0 {
		fmt.Fprintf(&b, ", every %dm", r.IntervalMin)
	} else {
		b.WriteString(", instant")
	}
	switch r.Filter {
	case repost.FilterStrip:
		b.WriteString(", links stripped")
	case repost.FilterReplace:
		b.WriteString(", links replaced")
	}
	if r.Cursor > 0 {
		fmt.Fprintf(&b, ", replaying from %d", r.Cursor)
	}
	return b.String()
}

func displayIdentifier(s string) string {
	if strings.HasPrefix(s, "-100") || strings.HasPrefix(s, "@") {
		return s
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return s
	}
	return "@" + s
}

func statusIcon(s repost.RuleStatus) string {
	switch s {
	case repost.StatusActive:
		return "🟢"
	case repost.StatusPaused:
		return "⏸"
	default:
		return "🔴"
	}
}
