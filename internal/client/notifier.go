package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mixproxy/proxyadmin/internal/logging"
	"github.com/mixproxy/proxyadmin/internal/proxyconfig"
	"go.uber.org/zap"
)

// ProxyNotifier POSTs the configuration document to the proxy runtime's
// reload endpoint, retrying transport errors and 5xx responses.
type ProxyNotifier struct {
	url        string
	httpClient *http.Client
	maxRetries uint64
}

// NewProxyNotifier creates a notifier for the reload endpoint at url.
func NewProxyNotifier(url string, timeout time.Duration) *ProxyNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ProxyNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: 3,
	}
}

// Notify sends cfg to the proxy.
func (n *ProxyNotifier) Notify(ctx context.Context, cfg proxyconfig.Config) error {
	data, err := proxyconfig.Encode(cfg)
	if err != nil {
		return err
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := n.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("proxy reload: status %d", resp.StatusCode)
		case resp.StatusCode >= 300:
			return backoff.Permanent(fmt.Errorf("proxy reload: status %d", resp.StatusCode))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	return backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(bo, n.maxRetries), ctx),
		func(err error, wait time.Duration) {
			logging.Warn("proxy reload failed, retrying", zap.String("url", n.url), zap.Duration("wait", wait), zap.Error(err))
		})
}
