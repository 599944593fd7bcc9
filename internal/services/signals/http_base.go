package signals

import (
	"context"
	"fmt"
	"strings"
	"time"

	xhttp "FinAlloc/pkg/http"
)

// HTTPServiceBase centralizes client construction and JSON POSTs for models
// served over HTTP.
type HTTPServiceBase struct {
	baseURL string
	client  *xhttp.Client
}

func NewHTTPServiceBase(baseURL string, timeout time.Duration, opts ...xhttp.ClientOption) *HTTPServiceBase {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	opts = append([]xhttp.ClientOption{xhttp.WithTimeout(timeout)}, opts...)
	return &HTTPServiceBase{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  xhttp.NewClient(opts...),
	}
}

// PostJSON posts payload to path under baseURL and decodes JSON into dest.
func (b *HTTPServiceBase) PostJSON(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	if b.client == nil || b.baseURL == "" {
		return fmt.Errorf("model http client not initialized")
	}
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    b.baseURL + path,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: payload,
	}, dest)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	return nil
}

// PostJSONWithRetry retries PostJSON up to attempts times with linear backoff.
func (b *HTTPServiceBase) PostJSONWithRetry(ctx context.Context, path string, payload interface{}, dest interface{}, attempts int) error {
	if attempts <= 1 {
		return b.PostJSON(ctx, path, payload, dest)
	}
	var err error
	for i := 1; i <= attempts; i++ {
		err = b.PostJSON(ctx, path, payload, dest)
		if err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		select {
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
