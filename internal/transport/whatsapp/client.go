// Package whatsapp implements transport.Client on a linked WhatsApp device (whatsmeow).
package whatsapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"pollbot/internal/transport"
	logx "pollbot/pkg/logx"
)

const platform = "whatsapp"

type Config struct {
	// SessionPath is the sqlite file holding the device keys.
	SessionPath string
}

// Client owns one whatsmeow client and its session database.
type Client struct {
	log    logx.Logger
	db     *sql.DB
	cli    *whatsmeow.Client
	events *transport.Emitter

	// lifetime context for the QR channel; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	connected bool
	closed    bool
}

var _ transport.Client = (*Client)(nil)

// New opens (or creates) the session store. It does not connect.
func New(ctx context.Context, cfg Config, log logx.Logger) (*Client, error) {
	log = log.With(logx.String("comp", "transport.whatsapp"))
	path := strings.TrimSpace(cfg.SessionPath)
	if path == "" {
		return nil, errors.New("whatsapp: session path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, transport.Wrap(platform, "open session db", err)
	}
	db.SetMaxOpenConns(1)

	wlog := newWALogger(log)
	container := sqlstore.NewWithDB(db, "sqlite3", wlog.Sub("store"))
	if err := container.Upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, transport.Wrap(platform, "upgrade session db", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = db.Close()
		return nil, transport.Wrap(platform, "load device", err)
	}

	cli := whatsmeow.NewClient(device, wlog.Sub("client"))
	// Reconnects are driven by the app so they show up in its logs and backoff.
	cli.EnableAutoReconnect = false

	c := &Client{
		log:    log,
		db:     db,
		cli:    cli,
		events: transport.NewEmitter(32),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	cli.AddEventHandler(c.handle)
	return c, nil
}

func (c *Client) Platform() string { return platform }

func (c *Client) Events() <-chan transport.Event { return c.events.C() }

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrClosed
	}
	c.mu.Unlock()
	if c.cli.IsConnected() {
		return nil
	}

	if c.cli.Store.ID == nil {
		qr, err := c.cli.GetQRChannel(c.ctx)
		if err != nil {
			return transport.Wrap(platform, "qr channel", err)
		}
		go c.pumpQR(qr)
		c.log.Info("no linked session; waiting for QR pairing")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.cli.Connect(); err != nil {
		return transport.Wrap(platform, "connect", err)
	}
	return nil
}

func (c *Client) pumpQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			c.events.Emit(transport.Event{Kind: transport.EventQR, Code: item.Code})
		case "success":
			c.log.Info("qr pairing succeeded")
		case "timeout":
			c.events.Emit(transport.Event{Kind: transport.EventAuthFailure, Reason: "qr pairing timed out"})
		default:
			reason := item.Event
			if item.Error != nil {
				reason = item.Error.Error()
			}
			c.events.Emit(transport.Event{Kind: transport.EventAuthFailure, Reason: reason})
		}
	}
}

func (c *Client) handle(evt interface{}) {
	switch e := evt.(type) {
	case *events.PairSuccess:
		c.log.Info("device paired", logx.String("jid", e.ID.String()), logx.String("platform", e.Platform))
		c.events.Emit(transport.Event{Kind: transport.EventAuthenticated})
	case *events.Connected:
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		c.events.Emit(transport.Event{Kind: transport.EventAuthenticated})
		c.events.Emit(transport.Event{Kind: transport.EventReady})
	case *events.Disconnected:
		c.markDisconnected("connection closed")
	case *events.StreamReplaced:
		c.markDisconnected("stream replaced by another session")
	case *events.LoggedOut:
		c.events.Emit(transport.Event{Kind: transport.EventAuthFailure, Reason: "logged out: " + e.Reason.String()})
		c.markDisconnected("logged out")
	case *events.ConnectFailure:
		reason := fmt.Sprintf("connect failure %d: %s", int(e.Reason), e.Message)
		if e.Reason.IsLoggedOut() {
			c.events.Emit(transport.Event{Kind: transport.EventAuthFailure, Reason: reason})
		}
		c.markDisconnected(reason)
	case *events.TemporaryBan:
		c.events.Emit(transport.Event{Kind: transport.EventAuthFailure, Reason: e.String()})
	}
}

func (c *Client) markDisconnected(reason string) {
	c.mu.Lock()
	was := c.connected
	c.connected = false
	closed := c.closed
	c.mu.Unlock()
	if closed || !was {
		return
	}
	c.events.Emit(transport.Event{Kind: transport.EventDisconnected, Reason: reason})
}

func (c *Client) Close(context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.cli.Disconnect()
	c.events.Close()
	return c.db.Close()
}

func (c *Client) ListConversations(ctx context.Context) ([]transport.Conversation, error) {
	if !c.cli.IsConnected() {
		return nil, transport.Wrap(platform, "list groups", transport.ErrNotConnected)
	}
	groups, err := c.cli.GetJoinedGroups(ctx)
	if err != nil {
		return nil, transport.Wrap(platform, "list groups", err)
	}
	out := make([]transport.Conversation, 0, len(groups))
	for _, g := range groups {
		if g == nil {
			continue
		}
		out = append(out, transport.Conversation{ID: g.JID.String(), Name: g.Name, IsGroup: true})
	}
	return out, nil
}

func (c *Client) GetConversation(ctx context.Context, id string) (transport.Conversation, error) {
	jid, err := types.ParseJID(strings.TrimSpace(id))
	if err != nil {
		return transport.Conversation{}, fmt.Errorf("%w: %q: %v", transport.ErrNotFound, id, err)
	}
	if jid.Server != types.GroupServer {
		return transport.Conversation{ID: jid.String(), Name: jid.User, IsGroup: false}, nil
	}
	info, err := c.cli.GetGroupInfo(ctx, jid)
	if errors.Is(err, whatsmeow.ErrGroupNotFound) || errors.Is(err, whatsmeow.ErrNotInGroup) {
		return transport.Conversation{}, fmt.Errorf("%w: %s", transport.ErrNotFound, id)
	}
	if err != nil {
		return transport.Conversation{}, transport.Wrap(platform, "group info", err)
	}
	return transport.Conversation{ID: info.JID.String(), Name: info.Name, IsGroup: true}, nil
}

func (c *Client) SendPoll(ctx context.Context, to transport.Conversation, req transport.PollRequest) (transport.MessageRef, error) {
	selectable := 1
	if req.AllowMultiple {
		selectable = len(req.Options)
	}
	return c.send(ctx, to, "send poll", c.cli.BuildPollCreation(req.Question, req.Options, selectable))
}

func (c *Client) SendText(ctx context.Context, to transport.Conversation, text string) (transport.MessageRef, error) {
	return c.send(ctx, to, "send text", &waE2E.Message{Conversation: proto.String(text)})
}

func (c *Client) send(ctx context.Context, to transport.Conversation, op string, msg *waE2E.Message) (transport.MessageRef, error) {
	jid, err := types.ParseJID(to.ID)
	if err != nil {
		return transport.MessageRef{}, transport.Wrap(platform, op, err)
	}
	resp, err := c.cli.SendMessage(ctx, jid, msg)
	if err != nil {
		return transport.MessageRef{}, transport.Wrap(platform, op, err)
	}
	sent := resp.Timestamp
	if sent.IsZero() {
		sent = time.Now()
	}
	return transport.MessageRef{ConversationID: to.ID, MessageID: string(resp.ID), SentAt: sent}, nil
}
