package translate

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jonnyhoo/ccproxy-core/internal/httpclient"
)

// maxNetworkRetries bounds the transient-failure retry loop (spec §4.1:
// "retries a small, fixed number of times before giving up").
const maxNetworkRetries = 3

// retryOutcome carries the final response and how many attempts it took.
type retryOutcome struct {
	response *http.Response
	attempts int
}

// sendWithRetry issues req against client, retrying transient network
// failures and retryable HTTP statuses with exponential backoff before
// giving up. It never retries a request whose body already reflects a
// context trim or a chain reset — those require the caller to rebuild the
// request and call sendWithRetry again (spec §4.1 "Retry and fallback
// policy": network/status retry is a distinct, lower-level concern from
// context-trim and chain-reset retry).
func sendWithRetry(ctx context.Context, client *httpclient.Client, req httpclient.Request, verbose bool) (*retryOutcome, error) {
	var lastErr error
	resetExtended := false

	for attempt := 0; attempt <= maxNetworkRetries; attempt++ {
		resp, err := client.Do(ctx, req)
		if err == nil {
			if !httpclient.RetryableStatus(resp.StatusCode) || attempt == maxNetworkRetries {
				return &retryOutcome{response: resp, attempts: attempt + 1}, nil
			}
			resp.Body.Close()
			lastErr = &httpclient.StatusError{StatusCode: resp.StatusCode}
			if verbose {
				log.Printf("[debug] upstream status %d, retrying (attempt %d/%d)", resp.StatusCode, attempt+1, maxNetworkRetries)
			}
		} else {
			if !httpclient.RetryableNetError(err) {
				return nil, err
			}
			lastErr = err
			msg := err.Error()
			resetExtended = strings.Contains(msg, "connection reset") || strings.Contains(msg, "ECONNRESET")
			if verbose {
				log.Printf("[debug] transient network error, retrying (attempt %d/%d): %v", attempt+1, maxNetworkRetries, err)
			}
		}

		if attempt == maxNetworkRetries {
			break
		}
		if sleepErr := sleepBackoffStep(ctx, attempt, resetExtended); sleepErr != nil {
			return nil, sleepErr
		}
	}

	return nil, lastErr
}

// sleepBackoffStep advances a fresh backoff policy to the given attempt
// number and sleeps that long, or returns ctx.Err() if ctx is cancelled
// first.
func sleepBackoffStep(ctx context.Context, attempt int, resetExtended bool) error {
	b := httpclient.Backoff(resetExtended)
	var wait time.Duration
	for i := 0; i <= attempt; i++ {
		wait = b.NextBackOff()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
