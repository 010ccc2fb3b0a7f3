package restapi

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/matheus3301/inbox/internal/wire"
	"github.com/valyala/fasthttp"
)

// Conversations lists the user's conversations.
func (c *Client) Conversations(ctx context.Context) ([]wire.ConversationSummary, error) {
	var out []wire.ConversationSummary
	err := c.do(ctx, fasthttp.MethodGet, "/api/messages/conversations", nil, nil, listInto(&out, "conversations"))
	return out, err
}

// Conversation fetches one conversation with its messages.
func (c *Client) Conversation(ctx context.Context, conversationID wire.ID) (*wire.Conversation, error) {
	conv := &wire.Conversation{ConversationID: conversationID}
	err := c.do(ctx, fasthttp.MethodGet, "/api/messages/conversation/"+url.PathEscape(conversationID.String()), nil, nil, conversationInto(conv))
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// ConversationWith fetches the conversation with another user.
func (c *Client) ConversationWith(ctx context.Context, userID wire.ID) (*wire.Conversation, error) {
	conv := &wire.Conversation{OtherUserID: userID}
	err := c.do(ctx, fasthttp.MethodGet, "/api/messages/with/"+url.PathEscape(userID.String()), nil, nil, conversationInto(conv))
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// conversationInto accepts a conversation object or a bare message list.
func conversationInto(conv *wire.Conversation) func([]byte) error {
	return func(data []byte) error {
		if strings.HasPrefix(strings.TrimSpace(string(data)), "[") {
			return json.Unmarshal(data, &conv.Messages)
		}
		known := *conv
		if err := json.Unmarshal(data, conv); err != nil {
			return err
		}
		if conv.ConversationID == "" {
			conv.ConversationID = known.ConversationID
		}
		if conv.OtherUserID == "" {
			conv.OtherUserID = known.OtherUserID
		}
		return nil
	}
}

// Send posts a normal message and returns it as stored by the server.
func (c *Client) Send(ctx context.Context, to wire.ID, content string) (*wire.Message, error) {
	return c.send(ctx, "/api/messages/send", to, content)
}

// SendGreeting posts a greeting message.
func (c *Client) SendGreeting(ctx context.Context, to wire.ID, content string) (*wire.Message, error) {
	return c.send(ctx, "/api/messages/greeting", to, content)
}

func (c *Client) send(ctx context.Context, path string, to wire.ID, content string) (*wire.Message, error) {
	var msg wire.Message
	req := wire.SendRequest{ToUserID: to, Content: content}
	if err := c.do(ctx, fasthttp.MethodPost, path, nil, req, objectInto(&msg, "message")); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkRead marks a conversation read.
func (c *Client) MarkRead(ctx context.Context, conversationID wire.ID) error {
	return c.do(ctx, fasthttp.MethodPost, "/api/messages/read", nil, wire.ReadRequest{ConversationID: conversationID}, nil)
}

// Search finds messages matching q.
func (c *Client) Search(ctx context.Context, q string) ([]wire.Message, error) {
	var out []wire.Message
	err := c.do(ctx, fasthttp.MethodGet, "/api/messages/search", url.Values{"q": {q}}, nil, listInto(&out, "messages", "results"))
	return out, err
}

// UnreadCount returns the number of unread messages.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out wire.UnreadCount
	err := c.do(ctx, fasthttp.MethodGet, "/api/messages/unread-count", nil, nil, into(&out))
	return out.UnreadCount, err
}

// Limits returns the user's messaging quotas.
func (c *Client) Limits(ctx context.Context) (wire.Limits, error) {
	var out wire.Limits
	err := c.do(ctx, fasthttp.MethodGet, "/api/messages/limits", nil, nil, into(&out))
	return out, err
}
