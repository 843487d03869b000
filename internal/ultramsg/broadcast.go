package ultramsg

import (
	"context"
	"sync"

	"github.com/wablast/wablast/internal/contacts"
)

// DefaultConcurrency is the broadcast pool size.
const DefaultConcurrency = 5

// BroadcastResult is one recipient's outcome, tagged with the
// originating phone so completion-order collection stays attributable.
type BroadcastResult struct {
	Recipient contacts.Recipient
	Phone     string
	Response  *Response
	Err       error
}

// SendFunc produces the provider call for one recipient. The broadcast
// pool renders and sends through it so text and image runs share the
// same scheduling.
type SendFunc func(ctx context.Context, rec contacts.Recipient) (*Response, error)

// Broadcast dispatches every recipient through a bounded worker pool
// and returns results in completion order. Every submitted recipient
// yields exactly one result; a failure in one worker never cancels or
// blocks the others.
func Broadcast(ctx context.Context, recipients []contacts.Recipient, concurrency int, send SendFunc) []BroadcastResult {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	results := make(chan BroadcastResult, len(recipients))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, rec := range recipients {
		sem <- struct{}{}
		wg.Add(1)

		go func(rec contacts.Recipient) {
			defer func() {
				<-sem
				wg.Done()
			}()

			resp, err := send(ctx, rec)
			results <- BroadcastResult{
				Recipient: rec,
				Phone:     rec.Phone,
				Response:  resp,
				Err:       err,
			}
		}(rec)
	}

	wg.Wait()
	close(results)

	collected := make([]BroadcastResult, 0, len(recipients))
	for r := range results {
		collected = append(collected, r)
	}
	return collected
}
