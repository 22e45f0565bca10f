package remote

import (
	"context"
	"net/url"
	"strings"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// WatchEvents subscribes to the remote change feed for the tree rooted at
// rootID. Events arrive until the context is cancelled or the feed fails, at
// which point the channel is closed; callers treat a closed channel as a
// signal to fall back to interval polling.
func (c *HTTPClient) WatchEvents(ctx context.Context, rootID string) (<-chan Event, error) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) +
		"/v1/nodes/" + url.PathEscape(rootID) + "/events"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: map[string][]string{
			"Authorization": {"Bearer " + c.token},
		},
	})
	if err != nil {
		return nil, err
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer conn.Close(websocket.StatusNormalClosure, "done")
		for {
			var event Event
			if err := wsjson.Read(ctx, conn, &event); err != nil {
				return
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}
