package board

import (
	"context"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/xcawolfe-amzn/relay/internal/feed"
)

// Connect dials the monitor's event feed and returns a channel of
// events. The channel closes when the connection drops or the context
// is cancelled.
func Connect(ctx context.Context, addr string) (<-chan feed.Event, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/events"}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to event feed at %s: %w", addr, err)
	}

	ch := make(chan feed.Event, 64)
	go func() {
		defer close(ch)
		defer conn.Close()
		for {
			var e feed.Event
			if err := conn.ReadJSON(&e); err != nil {
				return
			}
			select {
			case ch <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Close the connection on cancellation to unblock ReadJSON.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	return ch, nil
}
