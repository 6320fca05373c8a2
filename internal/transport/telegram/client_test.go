package telegram

import (
	"context"
	"errors"
	"testing"

	tele "gopkg.in/telebot.v4"

	"pollbot/internal/transport"
	logx "pollbot/pkg/logx"
)

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatalf("expected error for empty token")
	}
}

func TestConversationOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		chat tele.Chat
		want transport.Conversation
	}{
		{
			name: "supergroup",
			chat: tele.Chat{ID: -100123, Type: tele.ChatSuperGroup, Title: "Badminton"},
			want: transport.Conversation{ID: "-100123", Name: "Badminton", IsGroup: true},
		},
		{
			name: "basic group",
			chat: tele.Chat{ID: -42, Type: tele.ChatGroup, Title: "Team"},
			want: transport.Conversation{ID: "-42", Name: "Team", IsGroup: true},
		},
		{
			name: "private",
			chat: tele.Chat{ID: 7, Type: tele.ChatPrivate, FirstName: "Ada", LastName: "L"},
			want: transport.Conversation{ID: "7", Name: "Ada L", IsGroup: false},
		},
		{
			name: "channel",
			chat: tele.Chat{ID: -100999, Type: tele.ChatChannel, Title: "News"},
			want: transport.Conversation{ID: "-100999", Name: "News", IsGroup: false},
		},
	}
	for _, tt := range tests {
		if got := conversationOf(&tt.chat); got != tt.want {
			t.Fatalf("%s: got %+v want %+v", tt.name, got, tt.want)
		}
	}
}

func TestRememberedChatsAreListed(t *testing.T) {
	t.Parallel()

	c, err := New(Config{Token: "123:abc"}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.rememberChat(&tele.Chat{ID: -2, Type: tele.ChatGroup, Title: "Zeta"})
	c.rememberChat(&tele.Chat{ID: -1, Type: tele.ChatGroup, Title: "Alpha"})
	c.rememberChat(&tele.Chat{ID: -1, Type: tele.ChatGroup, Title: "Alpha"})

	got, err := c.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(got) != 2 || got[0].Name != "Alpha" || got[1].Name != "Zeta" {
		t.Fatalf("got %+v", got)
	}
}

func TestCallsBeforeConnect(t *testing.T) {
	t.Parallel()

	c, _ := New(Config{Token: "123:abc"}, logx.Nop())
	_, err := c.SendPoll(context.Background(), transport.Conversation{ID: "-1"}, transport.PollRequest{Question: "q", Options: []string{"On", "Off"}})
	if !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("err=%v want ErrNotConnected", err)
	}
	if _, err := c.GetConversation(context.Background(), "not-a-number"); !errors.Is(err, transport.ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestConnectUnauthorizedEmitsAuthFailure(t *testing.T) {
	t.Parallel()

	c, _ := New(Config{Token: "123:abc"}, logx.Nop())
	c.newBot = func(tele.Settings) (*tele.Bot, error) { return nil, tele.ErrUnauthorized }

	err := c.Connect(context.Background())
	if !errors.Is(err, transport.ErrAuthFailure) {
		t.Fatalf("err=%v want ErrAuthFailure", err)
	}
	ev := <-c.Events()
	if ev.Kind != transport.EventAuthFailure {
		t.Fatalf("event=%+v", ev)
	}
	_ = c.Close(context.Background())
	if err := c.Connect(context.Background()); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("Connect after Close err=%v", err)
	}
}
