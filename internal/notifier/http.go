package notifier

import (
	"context"
	"net/http"

	"github.com/utafrali/authcore/pkg/httpclient"
)

// HTTPTransport posts messages as JSON to a mail relay through a circuit
// breaker.
type HTTPTransport struct {
	client   *httpclient.CircuitBreakerClient
	relayURL string
}

// NewHTTPTransport creates a transport posting to relayURL.
func NewHTTPTransport(client *httpclient.CircuitBreakerClient, relayURL string) *HTTPTransport {
	return &HTTPTransport{client: client, relayURL: relayURL}
}

// Deliver implements Transport.
func (t *HTTPTransport) Deliver(ctx context.Context, msg Message) error {
	resp, err := t.client.PostJSON(ctx, t.relayURL, msg)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return httpclient.ParseResponseError(resp, "mail relay")
	}
	_ = resp.Body.Close()
	return nil
}
