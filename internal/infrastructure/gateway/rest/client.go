package rest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/riskibarqy/teamsync/internal/domain/record"
	"github.com/riskibarqy/teamsync/internal/domain/remote"
	"github.com/riskibarqy/teamsync/internal/platform/logging"
	"github.com/riskibarqy/teamsync/internal/platform/resilience"
	"github.com/valyala/bytebufferpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxResponseBody = 1 << 20

type Config struct {
	BaseURL        string
	APIKey         string
	AccessToken    string
	Timeout        time.Duration
	CircuitBreaker resilience.CircuitBreakerConfig
}

// Client talks to a PostgREST style backend: one path per collection,
// row filters as `column=eq.value`, and RPCs under /rpc.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	accessToken string
	breaker     *resilience.CircuitBreaker
	logger      *logging.Logger
}

func NewClient(cfg Config, logger *logging.Logger) (*Client, error) {
	baseURL, err := validateHTTPBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, crerr.Wrap(err, "invalid BACKEND_REST_URL")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.Named("gateway.rest")

	breaker := resilience.NewCircuitBreaker(cfg.CircuitBreaker, resilience.WithStateChangeHook(func(from, to resilience.CircuitState) {
		logger.Warn("backend circuit breaker changed state", "from", from, "to", to)
	}))

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		accessToken: strings.TrimSpace(cfg.AccessToken),
		breaker:     breaker,
		logger:      logger,
	}, nil
}

func (c *Client) Create(ctx context.Context, entityType record.Type, payload []byte) (remote.Row, error) {
	collection, err := remote.CollectionFor(entityType)
	if err != nil {
		return nil, remote.Mark(err, remote.KindValidation)
	}
	body, err := c.encodeFields(collection, payload)
	if err != nil {
		return nil, err
	}

	rows, err := c.do(ctx, http.MethodPost, c.collectionURL(collection, ""), body)
	if err != nil {
		return nil, crerr.Wrapf(err, "create %s", collection.Name)
	}
	if len(rows) == 0 {
		return remote.Row{}, nil
	}
	return rows[0], nil
}

func (c *Client) Update(ctx context.Context, entityType record.Type, id string, payload []byte) (remote.Row, error) {
	collection, err := remote.CollectionFor(entityType)
	if err != nil {
		return nil, remote.Mark(err, remote.KindValidation)
	}
	body, err := c.encodeFields(collection, payload)
	if err != nil {
		return nil, err
	}

	rows, err := c.do(ctx, http.MethodPatch, c.collectionURL(collection, id), body)
	if err != nil {
		return nil, crerr.Wrapf(err, "update %s/%s", collection.Name, id)
	}
	// PostgREST answers a PATCH that matched nothing with 200 and [].
	if len(rows) == 0 {
		return nil, remote.Errorf(remote.KindNotFound, "update %s/%s: no row matched", collection.Name, id)
	}
	return rows[0], nil
}

func (c *Client) Delete(ctx context.Context, entityType record.Type, id string) error {
	collection, err := remote.CollectionFor(entityType)
	if err != nil {
		return remote.Mark(err, remote.KindValidation)
	}

	rows, err := c.do(ctx, http.MethodDelete, c.collectionURL(collection, id), nil)
	if err != nil {
		return crerr.Wrapf(err, "delete %s/%s", collection.Name, id)
	}
	if len(rows) == 0 {
		return remote.Errorf(remote.KindNotFound, "delete %s/%s: no row matched", collection.Name, id)
	}
	return nil
}

func (c *Client) GenerateTeamCode(ctx context.Context, teamID string) (string, error) {
	body, err := sonic.Marshal(map[string]string{"team_id": teamID})
	if err != nil {
		return "", crerr.Wrap(err, "marshal generate_team_code args")
	}

	var code string
	err = c.breaker.Execute(func() error {
		raw, callErr := c.send(ctx, http.MethodPost, c.rpcURL("generate_team_code"), body)
		if callErr != nil {
			return callErr
		}
		if decodeErr := sonic.Unmarshal(raw, &code); decodeErr != nil {
			return remote.Mark(crerr.Wrap(decodeErr, "decode generate_team_code response"), remote.KindUnknown)
		}
		return nil
	}, isCircuitFailure)
	if err != nil {
		return "", crerr.Wrap(circuitToNetwork(err), "generate team code")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return "", remote.Errorf(remote.KindUnknown, "generate team code: empty response")
	}
	return code, nil
}

func (c *Client) encodeFields(collection remote.Collection, payload []byte) ([]byte, error) {
	fields, err := collection.Fields(payload)
	if err != nil {
		return nil, err
	}
	body, err := sonic.Marshal(fields)
	if err != nil {
		return nil, remote.Mark(crerr.Wrapf(err, "encode %s body", collection.Name), remote.KindValidation)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]remote.Row, error) {
	var rows []remote.Row
	err := c.breaker.Execute(func() error {
		raw, callErr := c.send(ctx, method, endpoint, body)
		if callErr != nil {
			return callErr
		}
		if len(bytes.TrimSpace(raw)) == 0 {
			return nil
		}
		if decodeErr := sonic.Unmarshal(raw, &rows); decodeErr != nil {
			return remote.Mark(crerr.Wrap(decodeErr, "decode backend response"), remote.KindUnknown)
		}
		return nil
	}, isCircuitFailure)
	if err != nil {
		return nil, circuitToNetwork(err)
	}
	return rows, nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, remote.Mark(crerr.Wrap(err, "create backend request"), remote.KindUnknown)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", "return=representation")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("backend.method", method),
			attribute.String("backend.url", endpoint),
		)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "backend request failed", "method", method, "url", endpoint, "error", err)
		return nil, remote.Mark(crerr.Wrapf(err, "%s %s", method, endpoint), remote.KindNetwork)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, remote.Mark(crerr.Wrap(err, "read backend response"), remote.KindNetwork)
	}

	if resp.StatusCode/100 != 2 {
		kind := kindForStatus(resp.StatusCode)
		c.logger.WarnContext(ctx, "backend rejected request",
			"method", method,
			"url", endpoint,
			"status", resp.StatusCode,
			"kind", kind,
			"body", truncateForLog(strings.TrimSpace(string(raw)), 512),
		)
		return nil, remote.Errorf(kind, "%s %s status=%d body=%s", method, endpoint, resp.StatusCode, truncateForLog(strings.TrimSpace(string(raw)), 512))
	}
	return raw, nil
}

func (c *Client) bearer() string {
	if c.accessToken != "" {
		return c.accessToken
	}
	return c.apiKey
}

func (c *Client) collectionURL(collection remote.Collection, id string) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	_, _ = buf.WriteString(c.baseURL)
	_ = buf.WriteByte('/')
	_, _ = buf.WriteString(url.PathEscape(collection.Name))
	if id != "" {
		_ = buf.WriteByte('?')
		_, _ = buf.WriteString(url.QueryEscape(collection.PrimaryKey))
		_, _ = buf.WriteString("=eq.")
		_, _ = buf.WriteString(url.QueryEscape(id))
	}
	return buf.String()
}

func (c *Client) rpcURL(fn string) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	_, _ = buf.WriteString(c.baseURL)
	_, _ = buf.WriteString("/rpc/")
	_, _ = buf.WriteString(url.PathEscape(fn))
	return buf.String()
}

func kindForStatus(status int) remote.Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return remote.KindUnauthorized
	case status == http.StatusNotFound:
		return remote.KindNotFound
	case status == http.StatusConflict:
		return remote.KindConflict
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return remote.KindValidation
	case isRetryableStatus(status):
		return remote.KindNetwork
	default:
		return remote.KindUnknown
	}
}

func isRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusRequestTimeout ||
		statusCode == http.StatusTooManyRequests ||
		statusCode >= http.StatusInternalServerError
}

// Only transport-level trouble trips the breaker; a 409 says the backend is healthy.
func isCircuitFailure(err error) bool {
	return remote.KindOf(err) == remote.KindNetwork
}

func circuitToNetwork(err error) error {
	if crerr.Is(err, resilience.ErrCircuitOpen) {
		return remote.Mark(err, remote.KindNetwork)
	}
	return err
}

func validateHTTPBaseURL(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", crerr.New("value is empty")
	}

	parsed, err := url.Parse(candidate)
	if err != nil {
		return "", crerr.Wrapf(err, "parse %q", candidate)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", crerr.Newf("%q uses unsupported scheme=%q; expected http or https", candidate, parsed.Scheme)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return "", crerr.Newf("%q has empty host", candidate)
	}

	return strings.TrimRight(candidate, "/"), nil
}

func truncateForLog(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	return value[:max] + "...(truncated)"
}

var _ remote.Gateway = (*Client)(nil)
