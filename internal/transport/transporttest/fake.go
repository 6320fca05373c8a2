// Package transporttest provides an in-memory transport.Client for tests.
package transporttest

import (
	"context"
	"strconv"
	"sync"
	"time"

	"pollbot/internal/transport"
)

// SentPoll records one SendPoll call.
type SentPoll struct {
	To  transport.Conversation
	Req transport.PollRequest
}

// Client is a scriptable fake. Hooks, when set, replace the default behaviour.
// Zero value is not usable; call New.
type Client struct {
	mu sync.Mutex

	Conversations []transport.Conversation

	ConnectFn  func(ctx context.Context) error
	ListFn     func(ctx context.Context) ([]transport.Conversation, error)
	GetFn      func(ctx context.Context, id string) (transport.Conversation, error)
	SendPollFn func(ctx context.Context, to transport.Conversation, req transport.PollRequest) error

	connects int
	lists    int
	gets     int
	polls    []SentPoll
	texts    []string
	closed   bool

	events *transport.Emitter
}

func New(convs ...transport.Conversation) *Client {
	return &Client{Conversations: convs, events: transport.NewEmitter(32)}
}

func (c *Client) Platform() string { return "fake" }

func (c *Client) Events() <-chan transport.Event { return c.events.C() }

// Emit pushes a lifecycle event to subscribers.
func (c *Client) Emit(ev transport.Event) { c.events.Emit(ev) }

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.connects++
	fn := c.ConnectFn
	c.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return nil
}

func (c *Client) Close(context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.events.Close()
	return nil
}

func (c *Client) ListConversations(ctx context.Context) ([]transport.Conversation, error) {
	c.mu.Lock()
	c.lists++
	fn := c.ListFn
	out := append([]transport.Conversation(nil), c.Conversations...)
	c.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return out, nil
}

func (c *Client) GetConversation(ctx context.Context, id string) (transport.Conversation, error) {
	c.mu.Lock()
	c.gets++
	fn := c.GetFn
	convs := c.Conversations
	c.mu.Unlock()
	if fn != nil {
		return fn(ctx, id)
	}
	for _, conv := range convs {
		if conv.ID == id {
			return conv, nil
		}
	}
	return transport.Conversation{}, transport.ErrNotFound
}

func (c *Client) SendPoll(ctx context.Context, to transport.Conversation, req transport.PollRequest) (transport.MessageRef, error) {
	c.mu.Lock()
	fn := c.SendPollFn
	c.mu.Unlock()
	if fn != nil {
		if err := fn(ctx, to, req); err != nil {
			return transport.MessageRef{}, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls = append(c.polls, SentPoll{To: to, Req: req})
	return transport.MessageRef{
		ConversationID: to.ID,
		MessageID:      "poll-" + strconv.Itoa(len(c.polls)),
		SentAt:         time.Now(),
	}, nil
}

func (c *Client) SendText(_ context.Context, to transport.Conversation, text string) (transport.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return transport.MessageRef{ConversationID: to.ID, MessageID: "text-" + strconv.Itoa(len(c.texts))}, nil
}

func (c *Client) Polls() []SentPoll {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SentPoll(nil), c.polls...)
}

func (c *Client) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func (c *Client) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func (c *Client) Lists() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lists
}

func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
