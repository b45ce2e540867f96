package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultRESTTimeout = 10 * time.Second

// RESTClient 交易所公共 REST 接口的通用客户端
type RESTClient struct {
	exchange string
	baseURL  string
	client   *http.Client
}

// NewRESTClient builds a client with a hard per-request timeout. proxyURL may be
// empty.
func NewRESTClient(exchange, baseURL string, timeout time.Duration, proxyURL string) (*RESTClient, error) {
	if timeout <= 0 {
		timeout = defaultRESTTimeout
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		tr.Proxy = http.ProxyURL(u)
	}
	return &RESTClient{
		exchange: exchange,
		baseURL:  baseURL,
		client: &http.Client{
			Timeout:   timeout,
			Transport: tr,
		},
	}, nil
}

func (c *RESTClient) BaseURL() string { return c.baseURL }

// GetJSON performs a GET and decodes the body into v. Failures come back as
// *Error classified by kind.
func (c *RESTClient) GetJSON(ctx context.Context, op, path string, query url.Values, v any) error {
	u, err := BuildQueryURL(c.baseURL, path, query)
	if err != nil {
		return NewError(KindTransport, c.exchange, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return NewError(KindTransport, c.exchange, op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return NewError(KindTransport, c.exchange, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return StatusError(c.exchange, op, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return NewError(KindDataValidation, c.exchange, op, fmt.Errorf("decode: %w", err))
	}
	return nil
}
