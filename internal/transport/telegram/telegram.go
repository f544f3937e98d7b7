// Package telegram adapts Telegram (long polling via telebot) to the
// pipeline's transport boundary: group messages in, curated digests out.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "chatcurator/internal/transport"
	logx "chatcurator/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- []kit.Event)
	runMu   sync.Mutex
	running bool

	// droppedEvents counts events dropped because the consumer lagged behind
	// the poll loop. Logged at Stop to avoid per-update spam.
	droppedEvents uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
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
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- []kit.Event
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		a.forward(c.Message(), false)
		return nil
	})
	a.bot.Handle(tele.OnMedia, func(c tele.Context) error {
		a.forward(c.Message(), true)
		return nil
	})
}

func (a *Adapter) forward(m *tele.Message, media bool) {
	if m == nil || m.Chat == nil || m.Sender == nil {
		return
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	ev := kit.Event{
		ID:          strconv.Itoa(m.ID),
		SourceID:    strconv.FormatInt(m.Chat.ID, 10),
		SenderID:    strconv.FormatInt(m.Sender.ID, 10),
		SenderName:  senderName(m.Sender),
		Text:        text,
		Kind:        messageKind(m, media),
		HasMedia:    media,
		IsForwarded: m.OriginalUnixtime != 0,
		FromSelf:    m.Sender.ID == a.bot.Me.ID,
		Timestamp:   time.Unix(m.Unixtime, 0),
	}
	if m.ReplyTo != nil {
		ev.QuotedID = strconv.Itoa(m.ReplyTo.ID)
	}

	v := a.out.Load()
	out, _ := v.(chan<- []kit.Event)
	if out == nil {
		return
	}
	select {
	case out <- []kit.Event{ev}:
	default:
		atomic.AddUint64(&a.droppedEvents, 1)
	}
}

func senderName(u *tele.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return strconv.FormatInt(u.ID, 10)
}

func messageKind(m *tele.Message, media bool) string {
	if !media {
		return "text"
	}
	switch {
	case m.Photo != nil:
		return "image"
	case m.Video != nil:
		return "video"
	case m.Voice != nil, m.Audio != nil:
		return "audio"
	case m.Document != nil:
		return "document"
	default:
		return "media"
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- []kit.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.runMu.Unlock()

	go a.bot.Start()
	go func() {
		<-ctx.Done()
		_ = a.Stop(context.Background())
	}()
	a.log.Info("telegram adapter started", logx.String("bot", a.bot.Me.Username))
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	_ = ctx
	a.runMu.Lock()
	if !a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = false
	var nilOut chan<- []kit.Event
	a.out.Store(nilOut)
	a.runMu.Unlock()

	a.bot.Stop()
	if n := atomic.LoadUint64(&a.droppedEvents); n > 0 {
		a.log.Warn("events dropped (slow consumer)", logx.Int64("count", int64(n)))
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error {
	_ = ctx
	id, err := strconv.ParseInt(strings.TrimSpace(to.ChatID), 10, 64)
	if err != nil {
		return errors.New("invalid chat id: " + to.ChatID)
	}
	var opts []any
	if opt != nil && opt.DisablePreview {
		opts = append(opts, tele.NoPreview)
	}
	_, err = a.bot.Send(&tele.Chat{ID: id}, text, opts...)
	return err
}

func (a *Adapter) ChatInfo(ctx context.Context, sourceID string) (kit.ChatInfo, error) {
	_ = ctx
	id, err := strconv.ParseInt(strings.TrimSpace(sourceID), 10, 64)
	if err != nil {
		return kit.ChatInfo{}, errors.New("invalid chat id: " + sourceID)
	}
	chat, err := a.bot.ChatByID(id)
	if err != nil {
		return kit.ChatInfo{}, err
	}
	name := chat.Title
	if name == "" {
		name = strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	}
	if name == "" && chat.Username != "" {
		name = "@" + chat.Username
	}
	return kit.ChatInfo{ID: sourceID, Name: name}, nil
}
