// Package dashapi talks to the dashboard server: the task collection, task
// output streams, run/stop commands and the push-notification channel.
package dashapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"taskdeck/internal/reconcile"
)

const apiPrefix = "/api/v1"

var ErrNotFound = errors.New("not found")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s %s failed with status: %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s failed with status: %d: %s", e.Method, e.Path, e.Code, body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

type Client struct {
	baseURL    string
	user       string
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*Client)

// WithUser sets the X-User header the server authorizes requests by.
func WithUser(user string) Option {
	return func(c *Client) { c.user = strings.TrimSpace(user) }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values) (*http.Request, error) {
	u := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewBuffer(nil))
	if err != nil {
		return nil, err
	}
	if c.user != "" {
		req.Header.Set("X-User", c.user)
	}
	return req, nil
}

// do sends the request and returns the response when the status is 2xx.
// The caller owns the body.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		defer func() {
			_ = res.Body.Close()
		}()
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &StatusError{Method: req.Method, Path: req.URL.Path, Code: res.StatusCode, Body: string(body)}
	}
	return res, nil
}

func (c *Client) FetchTasks(ctx context.Context) ([]reconcile.TaskRecord, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/tasks", nil)
	if err != nil {
		return nil, err
	}
	res, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = res.Body.Close()
	}()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read task collection: %w", err)
	}
	return reconcile.ParseTasks(body)
}

// Output is an open output stream of one task.
type Output struct {
	Body    io.ReadCloser
	Charset string
}

// OpenOutput streams the output of a task: what was captured so far, then
// live output until the run ends.
func (c *Client) OpenOutput(ctx context.Context, taskID string) (*Output, error) {
	return c.openOutput(ctx, http.MethodGet, taskID)
}

// RunOutput runs a task and streams only the output of that run.
func (c *Client) RunOutput(ctx context.Context, taskID string) (*Output, error) {
	return c.openOutput(ctx, http.MethodPost, taskID)
}

func (c *Client) openOutput(ctx context.Context, method, taskID string) (*Output, error) {
	req, err := c.newRequest(ctx, method, "/task/"+url.PathEscape(taskID)+"/output", nil)
	if err != nil {
		return nil, err
	}
	res, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return &Output{Body: res.Body, Charset: charsetOf(res.Header.Get("Content-Type"))}, nil
}

// ReadLines returns the captured output of a task split into lines.
func (c *Client) ReadLines(ctx context.Context, taskID string) ([]string, error) {
	out, err := c.OpenOutput(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return readLines(out)
}

// RunLines runs a task and returns the lines it printed.
func (c *Client) RunLines(ctx context.Context, taskID string) ([]string, error) {
	out, err := c.RunOutput(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return readLines(out)
}

func readLines(out *Output) ([]string, error) {
	defer func() {
		_ = out.Body.Close()
	}()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, err
	}
	return SplitLines(string(body)), nil
}

// SplitLines trims the output and splits it on newlines. Empty output has
// no lines.
func SplitLines(body string) []string {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// Run starts a task with the given arguments.
func (c *Client) Run(ctx context.Context, taskID string, args map[string]string) error {
	query := url.Values{}
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		query.Add(name, args[name])
	}
	return c.command(ctx, "/task/"+url.PathEscape(taskID), query)
}

func (c *Client) Stop(ctx context.Context, taskID string) error {
	return c.command(ctx, "/task/"+url.PathEscape(taskID)+"/stop", nil)
}

func (c *Client) command(ctx context.Context, path string, query url.Values) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, query)
	if err != nil {
		return err
	}
	res, err := c.do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return res.Body.Close()
}

func charsetOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}
