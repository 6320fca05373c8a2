package slack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pollbot/internal/transport"
	logx "pollbot/pkg/logx"
)

type fakeAPI struct {
	mu        sync.Mutex
	authErr   string
	posted    []string
	reactions []string
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
	mux.HandleFunc("/auth.test", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.authErr != "" {
			reply(w, fmt.Sprintf(`{"ok":false,"error":%q}`, f.authErr))
			return
		}
		reply(w, `{"ok":true,"user":"pollbot","user_id":"U1","team":"Club","team_id":"T1"}`)
	})
	mux.HandleFunc("/conversations.list", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("cursor") == "" {
			reply(w, `{"ok":true,"channels":[
				{"id":"C1","name":"badminton","is_channel":true,"is_member":true},
				{"id":"C2","name":"random","is_channel":true,"is_member":false}
			],"response_metadata":{"next_cursor":"page2"}}`)
			return
		}
		reply(w, `{"ok":true,"channels":[
			{"id":"G1","name":"mpdm-a--b","is_mpim":true,"is_member":true}
		],"response_metadata":{"next_cursor":""}}`)
	})
	mux.HandleFunc("/conversations.info", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		switch r.Form.Get("channel") {
		case "C1":
			reply(w, `{"ok":true,"channel":{"id":"C1","name":"badminton","is_channel":true,"is_member":true}}`)
		case "D1":
			reply(w, `{"ok":true,"channel":{"id":"D1","is_im":true}}`)
		default:
			reply(w, `{"ok":false,"error":"channel_not_found"}`)
		}
	})
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		f.posted = append(f.posted, r.Form.Get("text"))
		f.mu.Unlock()
		reply(w, fmt.Sprintf(`{"ok":true,"channel":%q,"ts":"1700000000.000100"}`, r.Form.Get("channel")))
	})
	mux.HandleFunc("/reactions.add", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		f.reactions = append(f.reactions, r.Form.Get("name"))
		f.mu.Unlock()
		reply(w, `{"ok":true}`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call %s", r.URL.Path)
		reply(w, `{"ok":false,"error":"unknown_method"}`)
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	c, err := New(Config{Token: "xoxb-test", APIURL: srv.URL + "/"}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestConnectEmitsReady(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, &fakeAPI{})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	for _, want := range []transport.EventKind{transport.EventAuthenticated, transport.EventReady} {
		if ev := <-c.Events(); ev.Kind != want {
			t.Fatalf("event=%s want %s", ev.Kind, want)
		}
	}
}

func TestConnectInvalidAuth(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, &fakeAPI{authErr: "invalid_auth"})
	err := c.Connect(context.Background())
	if !errors.Is(err, transport.ErrAuthFailure) {
		t.Fatalf("err=%v want ErrAuthFailure", err)
	}
	if ev := <-c.Events(); ev.Kind != transport.EventAuthFailure {
		t.Fatalf("event=%s", ev.Kind)
	}
}

func TestNotConnected(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, &fakeAPI{})
	if _, err := c.ListConversations(context.Background()); !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("err=%v", err)
	}
}

func TestListConversationsPaginates(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, &fakeAPI{})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	got, err := c.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(got) != 2 || got[0].ID != "C1" || got[1].ID != "G1" {
		t.Fatalf("got %+v", got)
	}
	for _, conv := range got {
		if !conv.IsGroup {
			t.Fatalf("%s should be a group", conv.ID)
		}
	}
}

func TestGetConversation(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, &fakeAPI{})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conv, err := c.GetConversation(context.Background(), "C1")
	if err != nil || conv.Name != "badminton" || !conv.IsGroup {
		t.Fatalf("C1: %+v err=%v", conv, err)
	}
	dm, err := c.GetConversation(context.Background(), "D1")
	if err != nil || dm.IsGroup {
		t.Fatalf("D1: %+v err=%v", dm, err)
	}
	if _, err := c.GetConversation(context.Background(), "C404"); !errors.Is(err, transport.ErrNotFound) {
		t.Fatalf("C404 err=%v want ErrNotFound", err)
	}
}

func TestSendPollSeedsReactions(t *testing.T) {
	t.Parallel()

	f := &fakeAPI{}
	c := newTestClient(t, f)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ref, err := c.SendPoll(context.Background(), transport.Conversation{ID: "C1"}, transport.PollRequest{
		Question: "22 Oct Wed 8-10pm @SLK",
		Options:  []string{"On", "Off"},
	})
	if err != nil {
		t.Fatalf("SendPoll: %v", err)
	}
	if ref.ConversationID != "C1" || ref.MessageID != "1700000000.000100" {
		t.Fatalf("ref=%+v", ref)
	}
	if want := time.Unix(1700000000, 100*int64(time.Microsecond)); !ref.SentAt.Equal(want) {
		t.Fatalf("SentAt=%v want %v", ref.SentAt, want)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.posted) != 1 || !strings.Contains(f.posted[0], ":one: On") || !strings.Contains(f.posted[0], ":two: Off") {
		t.Fatalf("posted=%q", f.posted)
	}
	if strings.Join(f.reactions, ",") != "one,two" {
		t.Fatalf("reactions=%v", f.reactions)
	}
}

func TestSendPollTooManyOptions(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, &fakeAPI{})
	opts := make([]string, len(voteEmoji)+1)
	if _, err := c.SendPoll(context.Background(), transport.Conversation{ID: "C1"}, transport.PollRequest{Question: "q", Options: opts}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseTS(t *testing.T) {
	t.Parallel()

	if got := parseTS("1700000000"); got.Unix() != 1700000000 {
		t.Fatalf("got %v", got)
	}
}
