// Package telegram implements transport.Client on the Telegram Bot API (telebot).
//
// The Bot API cannot enumerate chats, so the client remembers every chat it
// sees in updates. A by-name target resolves once the bot has seen a message
// in (or been added to) the group; by-id targets work immediately.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"pollbot/internal/transport"
	logx "pollbot/pkg/logx"
)

const platform = "telegram"

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Client wraps one telebot.Bot. The bot is created by Connect.
type Client struct {
	cfg    Config
	log    logx.Logger
	events *transport.Emitter

	// newBot is replaced in tests to avoid the getMe network call.
	newBot func(tele.Settings) (*tele.Bot, error)

	mu      sync.Mutex
	bot     *tele.Bot
	polling bool
	closed  bool
	chats   map[int64]transport.Conversation
}

var _ transport.Client = (*Client)(nil)

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "transport.telegram")),
		events: transport.NewEmitter(16),
		newBot: tele.NewBot,
		chats:  map[int64]transport.Conversation{},
	}, nil
}

func (c *Client) Platform() string { return platform }

func (c *Client) Events() <-chan transport.Event { return c.events.C() }

func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	if c.polling {
		return nil
	}

	if c.bot == nil {
		b, err := c.newBot(tele.Settings{
			Token:  c.cfg.Token,
			Poller: &tele.LongPoller{Timeout: c.cfg.PollTimeout},
			OnError: func(err error, _ tele.Context) {
				c.log.Warn("telegram update error", logx.Err(err))
			},
		})
		if err != nil {
			if errors.Is(err, tele.ErrUnauthorized) {
				c.events.Emit(transport.Event{Kind: transport.EventAuthFailure, Reason: err.Error()})
				return transport.Wrap(platform, "connect", fmt.Errorf("%w: %v", transport.ErrAuthFailure, err))
			}
			return transport.Wrap(platform, "connect", err)
		}
		c.bot = b
		c.registerHandlers(b)
		c.events.Emit(transport.Event{Kind: transport.EventAuthenticated})
		if b.Me != nil {
			c.log.Info("bot authenticated", logx.String("username", b.Me.Username))
		}
	}

	c.polling = true
	b := c.bot
	go func() {
		b.Start()
		c.mu.Lock()
		wasPolling, closed := c.polling, c.closed
		c.polling = false
		c.mu.Unlock()
		if wasPolling && !closed {
			c.events.Emit(transport.Event{Kind: transport.EventDisconnected, Reason: "long poll stopped"})
		}
	}()
	c.events.Emit(transport.Event{Kind: transport.EventReady})
	return nil
}

func (c *Client) registerHandlers(b *tele.Bot) {
	remember := func(tc tele.Context) error {
		c.rememberChat(tc.Chat())
		return nil
	}
	b.Handle(tele.OnText, remember)
	b.Handle(tele.OnAddedToGroup, remember)
	b.Handle(tele.OnUserJoined, remember)
	b.Handle(tele.OnPinned, remember)
}

func (c *Client) rememberChat(ch *tele.Chat) {
	if ch == nil {
		return
	}
	conv := conversationOf(ch)
	c.mu.Lock()
	_, known := c.chats[ch.ID]
	c.chats[ch.ID] = conv
	c.mu.Unlock()
	if !known {
		c.log.Debug("chat discovered", logx.String("id", conv.ID), logx.String("name", conv.Name), logx.Bool("group", conv.IsGroup))
	}
}

func conversationOf(ch *tele.Chat) transport.Conversation {
	name := ch.Title
	if name == "" {
		name = strings.TrimSpace(ch.FirstName + " " + ch.LastName)
	}
	if name == "" {
		name = ch.Username
	}
	return transport.Conversation{
		ID:      strconv.FormatInt(ch.ID, 10),
		Name:    name,
		IsGroup: ch.Type == tele.ChatGroup || ch.Type == tele.ChatSuperGroup,
	}
}

func (c *Client) Close(context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	b, polling := c.bot, c.polling
	c.polling = false
	c.mu.Unlock()

	if b != nil && polling {
		b.Stop()
	}
	c.events.Close()
	return nil
}

func (c *Client) ListConversations(ctx context.Context) ([]transport.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	out := make([]transport.Conversation, 0, len(c.chats))
	for _, conv := range c.chats {
		out = append(out, conv)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *Client) GetConversation(ctx context.Context, id string) (transport.Conversation, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return transport.Conversation{}, fmt.Errorf("%w: %q is not a chat id", transport.ErrNotFound, id)
	}
	b, err := c.current()
	if err != nil {
		return transport.Conversation{}, transport.Wrap(platform, "get chat", err)
	}
	if err := ctx.Err(); err != nil {
		return transport.Conversation{}, err
	}
	ch, err := b.ChatByID(chatID)
	if errors.Is(err, tele.ErrChatNotFound) {
		return transport.Conversation{}, fmt.Errorf("%w: %s", transport.ErrNotFound, id)
	}
	if err != nil {
		return transport.Conversation{}, transport.Wrap(platform, "get chat", err)
	}
	c.rememberChat(ch)
	return conversationOf(ch), nil
}

func (c *Client) current() (*tele.Bot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bot == nil {
		return nil, transport.ErrNotConnected
	}
	return c.bot, nil
}

func (c *Client) SendPoll(ctx context.Context, to transport.Conversation, req transport.PollRequest) (transport.MessageRef, error) {
	p := &tele.Poll{
		Type:            tele.PollRegular,
		Question:        req.Question,
		MultipleAnswers: req.AllowMultiple,
		Anonymous:       false,
	}
	p.AddOptions(req.Options...)
	return c.send(ctx, to, "send poll", p)
}

func (c *Client) SendText(ctx context.Context, to transport.Conversation, text string) (transport.MessageRef, error) {
	return c.send(ctx, to, "send text", text)
}

func (c *Client) send(ctx context.Context, to transport.Conversation, op string, what interface{}) (transport.MessageRef, error) {
	chatID, err := strconv.ParseInt(to.ID, 10, 64)
	if err != nil {
		return transport.MessageRef{}, transport.Wrap(platform, op, err)
	}
	b, err := c.current()
	if err != nil {
		return transport.MessageRef{}, transport.Wrap(platform, op, err)
	}
	if err := ctx.Err(); err != nil {
		return transport.MessageRef{}, err
	}
	msg, err := b.Send(&tele.Chat{ID: chatID}, what)
	if err != nil {
		return transport.MessageRef{}, transport.Wrap(platform, op, err)
	}
	return transport.MessageRef{
		ConversationID: to.ID,
		MessageID:      strconv.Itoa(msg.ID),
		SentAt:         msg.Time(),
	}, nil
}
