// Package target locates the conversation a poll is posted to.
package target

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pollbot/internal/transport"
	logx "pollbot/pkg/logx"
)

// Lister is the part of transport.Client used for by-name search.
type Lister interface {
	ListConversations(ctx context.Context) ([]transport.Conversation, error)
}

// Getter is the part of transport.Client used for by-id lookup.
type Getter interface {
	GetConversation(ctx context.Context, id string) (transport.Conversation, error)
}

// Resolver finds the destination. It never caches: every call hits the client.
type Resolver interface {
	Resolve(ctx context.Context) (transport.Conversation, error)
	// Describe returns "name:<x>" or "id:<x>" for logs and dedup keys.
	Describe() string
}

// ByName matches group conversations by exact name.
type ByName struct {
	Name   string
	Client Lister
	Log    logx.Logger
}

func (r *ByName) Describe() string { return "name:" + r.Name }

func (r *ByName) Resolve(ctx context.Context) (transport.Conversation, error) {
	r.Log.Info("searching for target group", logx.String("name", r.Name))

	convs, err := r.Client.ListConversations(ctx)
	if err != nil {
		return transport.Conversation{}, err
	}
	r.Log.Info("conversations listed", logx.Int("count", len(convs)))

	groups := make([]string, 0, len(convs))
	for _, c := range convs {
		if !c.IsGroup {
			continue
		}
		if c.Name == r.Name {
			r.Log.Info("target group found", logx.String("name", c.Name), logx.String("id", c.ID))
			return c, nil
		}
		groups = append(groups, c.Name)
	}

	r.Log.Error("target group not found", logx.String("name", r.Name), logx.Int("groups", len(groups)))
	for _, g := range groups {
		r.Log.Info("available group", logx.String("name", g))
	}
	return transport.Conversation{}, &NotFoundError{Query: r.Name, Available: groups}
}

// ByID fetches a conversation by its stable identifier.
type ByID struct {
	ID     string
	Client Getter
	Log    logx.Logger
}

func (r *ByID) Describe() string { return "id:" + r.ID }

func (r *ByID) Resolve(ctx context.Context) (transport.Conversation, error) {
	r.Log.Info("looking up target by id", logx.String("id", r.ID))

	c, err := r.Client.GetConversation(ctx, r.ID)
	if errors.Is(err, transport.ErrNotFound) {
		r.Log.Error("target id not found", logx.String("id", r.ID), logx.Err(err))
		return transport.Conversation{}, &NotFoundError{Query: r.ID, Reason: "unknown id"}
	}
	if err != nil {
		return transport.Conversation{}, err
	}
	if !c.IsGroup {
		r.Log.Error("target is not a group", logx.String("id", r.ID), logx.String("name", c.Name))
		return transport.Conversation{}, &NotFoundError{Query: r.ID, Reason: "not a group"}
	}
	r.Log.Info("target group found", logx.String("name", c.Name), logx.String("id", c.ID))
	return c, nil
}

// Client is what New needs from the messaging client.
type Client interface {
	Lister
	Getter
}

// New picks the strategy: id wins over name. Exactly one must be non-empty.
func New(name, id string, client Client, log logx.Logger) (Resolver, error) {
	name, id = strings.TrimSpace(name), strings.TrimSpace(id)
	log = log.With(logx.String("comp", "target"))
	switch {
	case id != "":
		return &ByID{ID: id, Client: client, Log: log}, nil
	case name != "":
		return &ByName{Name: name, Client: client, Log: log}, nil
	default:
		return nil, fmt.Errorf("target: name or id required")
	}
}
