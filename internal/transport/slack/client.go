// Package slack implements transport.Client on the Slack Web API.
//
// Slack has no native poll primitive for bots without an interactivity
// endpoint, so a poll is posted as a message listing each option next to a
// number emoji and the bot seeds one reaction per option for members to click.
package slack

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"pollbot/internal/transport"
	logx "pollbot/pkg/logx"
)

const platform = "slack"

// voteEmoji are the reaction names used for option 1..n.
var voteEmoji = []string{"one", "two", "three", "four", "five", "six", "seven", "eight", "nine", "keycap_ten"}

type Config struct {
	Token string
	// APIURL overrides the Web API base URL. It must end with a slash.
	APIURL string
}

type Client struct {
	api    *slack.Client
	log    logx.Logger
	events *transport.Emitter

	mu     sync.Mutex
	ready  bool
	closed bool
	self   string
}

var _ transport.Client = (*Client)(nil)

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("slack token is empty")
	}
	var opts []slack.Option
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	return &Client{
		api:    slack.New(cfg.Token, opts...),
		log:    log.With(logx.String("comp", "transport.slack")),
		events: transport.NewEmitter(16),
	}, nil
}

func (c *Client) Platform() string { return platform }

func (c *Client) Events() <-chan transport.Event { return c.events.C() }

// Connect verifies the token. The Web API is stateless, so there is no session to hold.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrClosed
	}
	c.mu.Unlock()

	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		if isAuthError(err) {
			c.events.Emit(transport.Event{Kind: transport.EventAuthFailure, Reason: err.Error()})
			return transport.Wrap(platform, "auth test", fmt.Errorf("%w: %v", transport.ErrAuthFailure, err))
		}
		return transport.Wrap(platform, "auth test", err)
	}

	c.mu.Lock()
	c.ready = true
	c.self = resp.UserID
	c.mu.Unlock()

	c.log.Info("slack authenticated", logx.String("team", resp.Team), logx.String("user", resp.User))
	c.events.Emit(transport.Event{Kind: transport.EventAuthenticated})
	c.events.Emit(transport.Event{Kind: transport.EventReady})
	return nil
}

func isAuthError(err error) bool {
	var se slack.SlackErrorResponse
	if !errors.As(err, &se) {
		return false
	}
	switch se.Err {
	case "invalid_auth", "not_authed", "account_inactive", "token_revoked", "token_expired":
		return true
	}
	return false
}

func isNotFound(err error) bool {
	var se slack.SlackErrorResponse
	return errors.As(err, &se) && se.Err == "channel_not_found"
}

func (c *Client) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.ready = false
	c.events.Close()
	return nil
}

func (c *Client) checkReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	if !c.ready {
		return transport.ErrNotConnected
	}
	return nil
}

// ListConversations returns every channel and multi-person DM the bot is a member of.
func (c *Client) ListConversations(ctx context.Context) ([]transport.Conversation, error) {
	if err := c.checkReady(); err != nil {
		return nil, transport.Wrap(platform, "list conversations", err)
	}
	params := &slack.GetConversationsParameters{
		Types:           []string{"public_channel", "private_channel", "mpim"},
		ExcludeArchived: true,
		Limit:           200,
	}
	var out []transport.Conversation
	for {
		chans, next, err := c.api.GetConversationsContext(ctx, params)
		if err != nil {
			return nil, transport.Wrap(platform, "list conversations", err)
		}
		for _, ch := range chans {
			if !ch.IsMember {
				continue
			}
			out = append(out, conversationOf(ch))
		}
		if next == "" {
			return out, nil
		}
		params.Cursor = next
	}
}

func (c *Client) GetConversation(ctx context.Context, id string) (transport.Conversation, error) {
	if err := c.checkReady(); err != nil {
		return transport.Conversation{}, transport.Wrap(platform, "conversation info", err)
	}
	ch, err := c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: strings.TrimSpace(id)})
	if isNotFound(err) {
		return transport.Conversation{}, fmt.Errorf("%w: %s", transport.ErrNotFound, id)
	}
	if err != nil {
		return transport.Conversation{}, transport.Wrap(platform, "conversation info", err)
	}
	return conversationOf(*ch), nil
}

func conversationOf(ch slack.Channel) transport.Conversation {
	return transport.Conversation{
		ID:      ch.ID,
		Name:    ch.Name,
		IsGroup: !ch.IsIM,
	}
}

func (c *Client) SendPoll(ctx context.Context, to transport.Conversation, req transport.PollRequest) (transport.MessageRef, error) {
	if len(req.Options) > len(voteEmoji) {
		return transport.MessageRef{}, transport.Wrap(platform, "send poll", fmt.Errorf("at most %d options supported, got %d", len(voteEmoji), len(req.Options)))
	}
	ref, err := c.post(ctx, to, "send poll", pollText(req))
	if err != nil {
		return ref, err
	}
	for i := range req.Options {
		item := slack.NewRefToMessage(ref.ConversationID, ref.MessageID)
		if err := c.api.AddReactionContext(ctx, voteEmoji[i], item); err != nil {
			// The poll is already visible; members can still react by hand.
			c.log.Warn("seeding vote reaction failed", logx.String("emoji", voteEmoji[i]), logx.Err(err))
		}
	}
	return ref, nil
}

func pollText(req transport.PollRequest) string {
	var b strings.Builder
	b.WriteString("*")
	b.WriteString(req.Question)
	b.WriteString("*\n")
	for i, opt := range req.Options {
		fmt.Fprintf(&b, ":%s: %s\n", voteEmoji[i], opt)
	}
	if req.AllowMultiple {
		b.WriteString("_React to vote. Multiple choices allowed._")
	} else {
		b.WriteString("_React with one option to vote._")
	}
	return b.String()
}

func (c *Client) SendText(ctx context.Context, to transport.Conversation, text string) (transport.MessageRef, error) {
	return c.post(ctx, to, "send text", text)
}

func (c *Client) post(ctx context.Context, to transport.Conversation, op, text string) (transport.MessageRef, error) {
	if err := c.checkReady(); err != nil {
		return transport.MessageRef{}, transport.Wrap(platform, op, err)
	}
	channel, ts, err := c.api.PostMessageContext(ctx, to.ID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionAsUser(false),
	)
	if isNotFound(err) {
		return transport.MessageRef{}, fmt.Errorf("%w: %s", transport.ErrNotFound, to.ID)
	}
	if err != nil {
		return transport.MessageRef{}, transport.Wrap(platform, op, err)
	}
	return transport.MessageRef{ConversationID: channel, MessageID: ts, SentAt: parseTS(ts)}, nil
}

// parseTS converts a Slack message timestamp ("1700000000.000100") to time.
func parseTS(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Now()
	}
	var us int64
	if frac != "" {
		us, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(s, us*int64(time.Microsecond))
}
