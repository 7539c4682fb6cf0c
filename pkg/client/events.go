package client

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/gorilla/websocket"

	"sbomer/pkg/models"
)

func (c *Client) eventsURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return (&url.URL{Scheme: scheme, Host: u.Host, Path: u.Path + eventsPath}).String(), nil
}

// Events streams manifest events to fn until ctx is done or the connection
// drops. A cancelled ctx yields a nil error.
func (c *Client) Events(ctx context.Context, fn func(models.ManifestEvent)) error {
	endpoint, err := c.eventsURL()
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	c.log.Debug().Str("url", endpoint).Msg("events connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		var ev models.ManifestEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			c.log.Debug().Err(err).Msg("skipping malformed event")
			continue
		}
		if ev.Type != models.EventManifestCreated && ev.Type != models.EventManifestDeleted {
			continue
		}
		fn(ev)
	}
}
