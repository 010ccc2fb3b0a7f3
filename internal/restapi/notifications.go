package restapi

import (
	"context"
	"net/url"

	"github.com/matheus3301/inbox/internal/wire"
	"github.com/valyala/fasthttp"
)

// Notifications lists the user's notifications, newest first.
func (c *Client) Notifications(ctx context.Context) ([]wire.Notification, error) {
	var out []wire.Notification
	err := c.do(ctx, fasthttp.MethodGet, "/api/notifications", nil, nil, listInto(&out, "notifications"))
	return out, err
}

// MarkNotificationRead marks one notification read.
func (c *Client) MarkNotificationRead(ctx context.Context, id wire.ID) error {
	return c.do(ctx, fasthttp.MethodPost, "/api/notifications/"+url.PathEscape(id.String())+"/read", nil, nil, nil)
}

// MarkAllNotificationsRead marks every notification read.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, fasthttp.MethodPost, "/api/notifications/read-all", nil, nil, nil)
}
