// Package feed consumes an external websocket change feed for the images
// table, an alternative push source to the record store's own subscription.
package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mornew/gallery/internal/models"
	"github.com/mornew/gallery/internal/observability"
	"github.com/mornew/gallery/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// wireEvent is the feed's JSON frame for one table change.
type wireEvent struct {
	Type   string              `json:"type"`
	Table  string              `json:"table"`
	ItemID string              `json:"itemId"`
	Item   *models.GalleryItem `json:"item,omitempty"`
}

// Client subscribes to a websocket change feed. It satisfies the same
// Subscribe contract as the record stores, so the synchronizer does not care
// which source feeds it.
type Client struct {
	url    string
	dialer *websocket.Dialer
}

// NewClient creates a feed client for the given websocket URL.
func NewClient(url string) *Client {
	return &Client{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Subscribe dials the feed and returns a channel of change events. The
// channel closes when ctx is cancelled or the connection drops; callers
// reconnect by subscribing again, and the poll path covers the gap.
func (c *Client) Subscribe(ctx context.Context) (<-chan store.ChangeEvent, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, err
	}

	if err := conn.WriteJSON(map[string]string{"type": "subscribe", "table": "images"}); err != nil {
		conn.Close()
		return nil, err
	}

	events := make(chan store.ChangeEvent)

	go c.writePump(ctx, conn)
	go c.readPump(ctx, conn, events)

	return events, nil
}

// writePump keeps the connection alive with periodic pings and closes it on
// context cancellation so the read pump unblocks.
func (c *Client) writePump(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			conn.Close()
			return

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// readPump reads frames until the connection drops, forwarding parsed change
// events. Frames for other tables or with unknown types are skipped.
func (c *Client) readPump(ctx context.Context, conn *websocket.Conn, events chan<- store.ChangeEvent) {
	defer close(events)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				observability.Warnf("feed: connection dropped: %v", err)
			}
			return
		}

		var ev wireEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			observability.Debugf("feed: skipping malformed frame: %v", err)
			continue
		}
		if ev.Table != "" && ev.Table != "images" {
			continue
		}

		var eventType store.EventType
		switch ev.Type {
		case "INSERT":
			eventType = store.EventInsert
		case "UPDATE":
			eventType = store.EventUpdate
		case "DELETE":
			eventType = store.EventDelete
		default:
			continue
		}

		itemID := ev.ItemID
		if itemID == "" && ev.Item != nil {
			itemID = ev.Item.ID
		}

		select {
		case events <- store.ChangeEvent{Type: eventType, ItemID: itemID, Item: ev.Item}:
		case <-ctx.Done():
			return
		}
	}
}
