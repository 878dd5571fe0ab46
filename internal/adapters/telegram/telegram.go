// Package telegram adapts the relay pipeline to the Telegram Bot API via
// telebot. One Adapter serves three roles: the transport.Provider consumed
// by the engine, the notify.Sender for tenant notices, and the flat command
// surface tenants drive rules with.
//
// Bot API limits apply: the bot sees posts only in chats it was added to,
// cannot read history (FetchFrom fails with transport.ErrUnsupported, which
// halts backfill walkers gracefully), and cannot join invite links on its
// own.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"reposter/internal/engine"
	"reposter/internal/repost"
	"reposter/internal/transport"
	"reposter/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	log logx.Logger
	bot *tele.Bot
	eng Engine

	runMu     sync.Mutex
	running   bool
	runCancel context.CancelFunc
	runWG     sync.WaitGroup

	// handlers maps tenant id -> live message handler. Fan-out of channel
	// posts goes to every listening tenant; rule matching scopes the rest.
	hmu      sync.Mutex
	handlers map[int64]transport.MessageHandler
}

// Engine is the slice of the pipeline API the command surface drives.
type Engine interface {
	RegisterTenant(ctx context.Context, id int64, username string) (repost.Tenant, error)
	LinkCredential(ctx context.Context, tenantID int64, ref string) error
	AddRule(ctx context.Context, p engine.AddRuleParams) (repost.Rule, error)
	ListRules(ctx context.Context, tenantID int64) ([]repost.Rule, error)
	ToggleRule(ctx context.Context, tenantID, ruleID int64) (repost.Rule, error)
	DeleteRule(ctx context.Context, tenantID, ruleID int64) error
	DeleteAll(ctx context.Context, tenantID int64) (int, error)
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{
		log:      log,
		bot:      b,
		handlers: map[int64]transport.MessageHandler{},
	}
	a.registerCommands()
	a.registerInbound()
	return a, nil
}

// Bind attaches the pipeline the command surface drives. The engine needs
// the adapter as its transport, so it cannot exist before New returns;
// Bind must be called before Start.
func (a *Adapter) Bind(eng Engine) { a.eng = eng }

// Start begins long polling. It is idempotent.
func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runWG.Add(1)
	a.runMu.Unlock()

	go func() {
		defer a.runWG.Done()
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop
	}()
	return nil
}

// Stop ends long polling without blocking shutdown on a pending getUpdates
// call for longer than the grace window.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		a.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		a.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

// ---- transport.Provider ----

func (a *Adapter) StartListening(_ context.Context, tenant repost.Tenant, onMessage transport.MessageHandler) error {
	a.hmu.Lock()
	a.handlers[tenant.ID] = onMessage
	a.hmu.Unlock()
	return nil
}

func (a *Adapter) StopListening(_ context.Context, tenantID int64) error {
	a.hmu.Lock()
	delete(a.handlers, tenantID)
	a.hmu.Unlock()
	return nil
}

func (a *Adapter) Send(_ context.Context, _ int64, destination string, bundle repost.Bundle) error {
	to := recipientFor(destination)
	for _, m := range bundle.Messages {
		what := outbound(m)
		if what == nil {
			continue
		}
		var err error
		if text, ok := what.(string); ok {
			_, err = a.bot.Send(to, text, tele.NoPreview)
		} else {
			_, err = a.bot.Send(to, what)
		}
		if err != nil {
			return mapSendError(err)
		}
	}
	return nil
}

// outbound builds the sendable for one filtered message. Media is re-sent
// by file id with the filtered text as caption; copying the source message
// would resurrect the original caption. Unknown media kinds degrade to the
// text, empty messages to nil.
func outbound(m repost.InboundMessage) interface{} {
	if kind, id, ok := strings.Cut(m.MediaRef, ":"); ok && id != "" {
		f := tele.File{FileID: id}
		switch kind {
		case "photo":
			return &tele.Photo{File: f, Caption: m.Text}
		case "video":
			return &tele.Video{File: f, Caption: m.Text}
		case "doc":
			return &tele.Document{File: f, Caption: m.Text}
		case "audio":
			return &tele.Audio{File: f, Caption: m.Text}
		case "anim":
			return &tele.Animation{File: f, Caption: m.Text}
		}
	}
	if m.Text == "" {
		return nil
	}
	return m.Text
}

func (a *Adapter) ResolveEntity(_ context.Context, _ int64, identifier string) (transport.Entity, error) {
	chat, err := a.bot.ChatByUsername(chatQuery(identifier))
	if err != nil {
		return transport.Entity{}, fmt.Errorf("resolve %q: %w", identifier, err)
	}
	return transport.Entity{ID: chat.ID, Title: chat.Title}, nil
}

func (a *Adapter) JoinByInvite(context.Context, int64, string) (transport.Entity, error) {
	// Bots must be added to private chats by an admin.
	return transport.Entity{}, fmt.Errorf("join by invite: %w", transport.ErrUnsupported)
}

func (a *Adapter) FetchFrom(context.Context, int64, string, int64, int) ([]repost.InboundMessage, error) {
	return nil, fmt.Errorf("history fetch: %w", transport.ErrUnsupported)
}

// ---- notify.Sender ----

func (a *Adapter) SendNotice(_ context.Context, tenantID int64, text string) error {
	_, err := a.bot.Send(tele.ChatID(tenantID), text, tele.NoPreview)
	return mapSendError(err)
}

// ---- inbound fan-out ----

func (a *Adapter) registerInbound() {
	onPost := func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		a.fanOut(inboundFromMessage(m))
		return nil
	}
	a.bot.Handle(tele.OnChannelPost, onPost)
	a.bot.Handle(tele.OnMedia, onPost)
}

func (a *Adapter) fanOut(msg repost.InboundMessage) {
	a.hmu.Lock()
	targets := make(map[int64]transport.MessageHandler, len(a.handlers))
	for id, h := range a.handlers {
		targets[id] = h
	}
	a.hmu.Unlock()

	for tenantID, h := range targets {
		h(tenantID, msg)
	}
}

func inboundFromMessage(m *tele.Message) repost.InboundMessage {
	return repost.InboundMessage{
		ChatID:       m.Chat.ID,
		ChatUsername: m.Chat.Username,
		MessageID:    int64(m.ID),
		GroupID:      albumGroupID(m.AlbumID),
		Text:         messageText(m),
		MediaKey:     mediaKey(m),
		MediaRef:     mediaRef(m),
		SentAt:       m.Time(),
	}
}

// albumGroupID folds Telegram's string media_group_id into the numeric
// group id the aggregator keys on.
func albumGroupID(albumID string) int64 {
	if albumID == "" {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(albumID))
	return int64(h.Sum64() & (1<<63 - 1)) // keep it positive
}

func messageText(m *tele.Message) string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

func mediaKey(m *tele.Message) string {
	switch {
	case m.Photo != nil:
		return "photo:" + m.Photo.UniqueID
	case m.Video != nil:
		return "video:" + m.Video.UniqueID
	case m.Document != nil:
		return "doc:" + m.Document.UniqueID
	case m.Audio != nil:
		return "audio:" + m.Audio.UniqueID
	case m.Animation != nil:
		return "anim:" + m.Animation.UniqueID
	default:
		return ""
	}
}

// mediaRef mirrors mediaKey but carries the re-sendable file id rather than
// the stable dedup identity.
func mediaRef(m *tele.Message) string {
	switch {
	case m.Photo != nil:
		return "photo:" + m.Photo.FileID
	case m.Video != nil:
		return "video:" + m.Video.FileID
	case m.Document != nil:
		return "doc:" + m.Document.FileID
	case m.Audio != nil:
		return "audio:" + m.Audio.FileID
	case m.Animation != nil:
		return "anim:" + m.Animation.FileID
	default:
		return ""
	}
}

// ---- helpers ----

// chatName is a username Recipient; telebot's ChatID covers numeric ids.
type chatName string

func (c chatName) Recipient() string { return string(c) }

// recipientFor maps a stored rule destination (canonical "-100..." id or
// bare username) to a telebot Recipient.
func recipientFor(destination string) tele.Recipient {
	if id, err := strconv.ParseInt(destination, 10, 64); err == nil {
		return tele.ChatID(id)
	}
	return chatName("@" + strings.TrimPrefix(destination, "@"))
}

func chatQuery(identifier string) string {
	if _, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		return identifier
	}
	return "@" + strings.TrimPrefix(identifier, "@")
}

// mapSendError converts telebot's flood wait into the transport-level
// rate limit the delivery executor retries on.
func mapSendError(err error) error {
	if err == nil {
		return nil
	}
	var flood *tele.FloodError
	if errors.As(err, &flood) {
		return &transport.RateLimitError{RetryAfter: time.Duration(flood.RetryAfter) * time.Second}
	}
	return err
}
