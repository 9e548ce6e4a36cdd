package dashapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"taskdeck/internal/events"
)

// Socket is a text-frame connection.
type Socket interface {
	ReadText(ctx context.Context) (string, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Socket, error)
}

type RealDialer struct{}

func (RealDialer) Dial(ctx context.Context, url string, header http.Header) (Socket, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxSSELine)
	return &realSocket{conn: conn}, nil
}

type realSocket struct {
	conn *websocket.Conn
}

func (s *realSocket) ReadText(ctx context.Context) (string, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return "", io.EOF
		}
		return "", err
	}
	return string(data), nil
}

func (s *realSocket) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

// wsFrame is one push event on the WebSocket variant of the channel.
type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WSTransport opens the push channel over a WebSocket (ws:// or wss://
// events URL). Each text frame carries one event.
type WSTransport struct {
	client *Client
	url    string
	dialer Dialer
}

func NewWSTransport(client *Client, eventsURL string, dialer Dialer) *WSTransport {
	if dialer == nil {
		dialer = RealDialer{}
	}
	return &WSTransport{client: client, url: eventsURL, dialer: dialer}
}

func (t *WSTransport) Open(ctx context.Context) (*EventConn, error) {
	header := http.Header{}
	if t.client.user != "" {
		header.Set("X-User", t.client.user)
	}
	sock, err := t.dialer.Dial(ctx, t.url, header)
	if err != nil {
		return nil, err
	}

	connCtx, cancel := context.WithCancel(ctx)
	conn := newEventConn(uuid.NewString(), cancel)
	logger := t.client.logger.With("conn", conn.id, "transport", "ws")
	go func() {
		defer func() {
			_ = sock.Close()
		}()
		var err error
		for {
			var text string
			text, err = sock.ReadText(connCtx)
			if err != nil {
				break
			}
			var frame wsFrame
			if jsonErr := json.Unmarshal([]byte(text), &frame); jsonErr != nil {
				logger.Warn("dropping malformed frame", "err", jsonErr)
				continue
			}
			ev, decodeErr := events.Decode(frame.Event, frame.Data)
			if decodeErr != nil {
				logger.Warn("dropping malformed event", "event", frame.Event, "err", decodeErr)
				continue
			}
			if !conn.deliver(connCtx, ev) {
				break
			}
		}
		if connCtx.Err() != nil || errors.Is(err, context.Canceled) {
			err = nil
		}
		logger.Debug("event socket ended", "err", err)
		conn.finish(err)
	}()
	return conn, nil
}

// IsWebSocketURL reports whether eventsURL selects the WebSocket transport.
func IsWebSocketURL(eventsURL string) bool {
	u := strings.ToLower(strings.TrimSpace(eventsURL))
	return strings.HasPrefix(u, "ws://") || strings.HasPrefix(u, "wss://")
}
