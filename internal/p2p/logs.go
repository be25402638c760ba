package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// logEvent is one line of the daemon's log stream. Only name_synced
// events matter here; everything else is skipped.
type logEvent struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

const reconnectDelay = 5 * time.Second

// LogWatcher tails the daemon's websocket log stream and invokes a
// callback whenever a name finishes syncing, so the indexer can rescan
// that identity.
type LogWatcher struct {
	url    string
	logger *slog.Logger
	onSync func(tld string)
}

// NewLogWatcher creates a watcher for the daemon log endpoint.
func NewLogWatcher(url string, logger *slog.Logger, onSync func(tld string)) *LogWatcher {
	return &LogWatcher{url: url, logger: logger, onSync: onSync}
}

// Start tails the log stream until the context is cancelled,
// reconnecting on transient errors.
func (w *LogWatcher) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := w.tail(ctx); err != nil {
				w.logger.Error("log stream error, reconnecting", "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(reconnectDelay):
				}
			}
		}
	}
}

func (w *LogWatcher) tail(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("p2p: dial log stream: %w", err)
	}
	defer conn.Close()

	w.logger.Info("connected to daemon log stream", "url", w.url)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("p2p: read log message: %w", err)
		}

		var event logEvent
		if err := json.Unmarshal(message, &event); err != nil {
			w.logger.Error("unparseable log event", "error", err)
			continue
		}
		if event.Type != "name_synced" || event.Name == "" {
			continue
		}
		w.onSync(event.Name)
	}
}
