package dashapi

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"taskdeck/internal/events"
)

const maxSSELine = 1 << 20

// SSETransport opens the server-sent-events push channel.
type SSETransport struct {
	client *Client
	url    string
}

// NewSSETransport reads events from eventsURL, or from the client's
// /api/v1/events endpoint when eventsURL is empty.
func NewSSETransport(client *Client, eventsURL string) *SSETransport {
	if strings.TrimSpace(eventsURL) == "" {
		eventsURL = client.baseURL + apiPrefix + "/events"
	}
	return &SSETransport{client: client, url: eventsURL}
}

func (t *SSETransport) Open(ctx context.Context) (*EventConn, error) {
	connCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, t.url, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if t.client.user != "" {
		req.Header.Set("X-User", t.client.user)
	}
	res, err := t.client.do(req)
	if err != nil {
		cancel()
		return nil, err
	}

	conn := newEventConn(uuid.NewString(), cancel)
	logger := t.client.logger.With("conn", conn.id, "transport", "sse")
	go func() {
		defer func() {
			_ = res.Body.Close()
		}()
		err := readSSE(res.Body, func(name string, data []byte) bool {
			ev, err := events.Decode(name, data)
			if err != nil {
				logger.Warn("dropping malformed event", "event", name, "err", err)
				return true
			}
			return conn.deliver(connCtx, ev)
		})
		if err == nil {
			err = io.EOF
		}
		if connCtx.Err() != nil {
			err = nil
		}
		logger.Debug("event stream ended", "err", err)
		conn.finish(err)
	}()
	return conn, nil
}

// readSSE parses an event stream and calls dispatch for every complete
// event until the stream ends or dispatch returns false.
func readSSE(r io.Reader, dispatch func(name string, data []byte) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxSSELine)

	name := ""
	var data bytes.Buffer
	hasData := false
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if name != "" || hasData {
				if name == "" {
					name = "message"
				}
				if !dispatch(name, bytes.Clone(data.Bytes())) {
					return nil
				}
			}
			name = ""
			data.Reset()
			hasData = false
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
	}
	return sc.Err()
}
