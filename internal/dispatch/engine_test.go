package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wablast/wablast/internal/contacts"
	"github.com/wablast/wablast/internal/ratelimit"
	"github.com/wablast/wablast/internal/ultramsg"
)

type fakeTransport struct {
	mu         sync.Mutex
	chats      []string // "phone|body"
	images     []string // "phone|url|caption"
	uploads    int
	uploadURL  string
	uploadErr  error
	failPhones map[string]bool
}

func (f *fakeTransport) SendChat(ctx context.Context, to, body string) (*ultramsg.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPhones[to] {
		return nil, &ultramsg.ProviderError{StatusCode: 500, Body: "instance busy"}
	}
	f.chats = append(f.chats, to+"|"+body)
	return &ultramsg.Response{Sent: "true", Raw: `{"sent":"true"}`}, nil
}

func (f *fakeTransport) SendImage(ctx context.Context, to, imageURL, caption string) (*ultramsg.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, to+"|"+imageURL+"|"+caption)
	return &ultramsg.Response{Sent: "true"}, nil
}

func (f *fakeTransport) Upload(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	if f.uploadURL == "" {
		f.uploadURL = "https://cdn.example/media/once.png"
	}
	return f.uploadURL, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func recipients(n int) []contacts.Recipient {
	out := make([]contacts.Recipient, n)
	for i := range out {
		out[i] = contacts.Recipient{
			Name:  fmt.Sprintf("Customer %d", i),
			Phone: fmt.Sprintf("+1555000%04d", i),
		}
	}
	return out
}

func silentPacer(afterMessage, afterBatch *int) *ratelimit.Pacer {
	p := ratelimit.NewPacer(time.Second, 10*time.Second)
	p.SetSleep(func(ctx context.Context, d time.Duration) {
		if d == time.Second {
			*afterMessage++
		} else {
			*afterBatch++
		}
	})
	return p
}

func TestBatches(t *testing.T) {
	tests := []struct {
		name      string
		n, size   int
		wantSizes []int
	}{
		{name: "23 by 10", n: 23, size: 10, wantSizes: []int{10, 10, 3}},
		{name: "exact multiple", n: 20, size: 10, wantSizes: []int{10, 10}},
		{name: "smaller than batch", n: 3, size: 10, wantSizes: []int{3}},
		{name: "size zero means one batch", n: 5, size: 0, wantSizes: []int{5}},
		{name: "empty", n: 0, size: 10, wantSizes: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Batches(recipients(tt.n), tt.size)
			if len(got) != len(tt.wantSizes) {
				t.Fatalf("batches = %d, want %d", len(got), len(tt.wantSizes))
			}

			// Partition: contiguous, ordered, no gaps or overlaps.
			idx := 0
			for i, batch := range got {
				if len(batch) != tt.wantSizes[i] {
					t.Errorf("batch %d size = %d, want %d", i, len(batch), tt.wantSizes[i])
				}
				for _, rec := range batch {
					if rec.Name != fmt.Sprintf("Customer %d", idx) {
						t.Fatalf("batch %d out of order: got %q at position %d", i, rec.Name, idx)
					}
					idx++
				}
			}
			if idx != tt.n {
				t.Errorf("partition covered %d recipients, want %d", idx, tt.n)
			}
		})
	}
}

func TestRunTextSequential(t *testing.T) {
	ft := &fakeTransport{}
	var msgPauses, batchPauses int

	eng := New(ft, silentPacer(&msgPauses, &batchPauses), nil, nil, discardLogger(), Options{BatchSize: 10})

	report, err := eng.RunText(context.Background(), recipients(23), "Hello {name}!")
	if err != nil {
		t.Fatalf("RunText: %v", err)
	}

	if report.Sent != 23 || report.Errored != 0 {
		t.Errorf("sent=%d errored=%d, want 23/0", report.Sent, report.Errored)
	}
	if report.State != StateCompleted || eng.State() != StateCompleted {
		t.Errorf("state = %q / %q, want completed", report.State, eng.State())
	}
	// 3 batches of 10,10,3: pauses between batches only.
	if batchPauses != 2 {
		t.Errorf("batch pauses = %d, want 2", batchPauses)
	}
	if msgPauses != 23 {
		t.Errorf("message pauses = %d, want 23", msgPauses)
	}
	if !strings.HasSuffix(ft.chats[0], "|Hello Customer 0!") {
		t.Errorf("first chat = %q, personalization missing", ft.chats[0])
	}
}

func TestRunTextBlankPhonesSkipped(t *testing.T) {
	list := recipients(5)
	list[1].Phone = ""
	list[3].Phone = "n/a"

	ft := &fakeTransport{}
	eng := New(ft, ratelimit.NewPacer(0, 0), nil, nil, discardLogger(), Options{BatchSize: 10})

	report, err := eng.RunText(context.Background(), list, "hi {name}")
	if err != nil {
		t.Fatalf("RunText: %v", err)
	}

	if report.Sent+report.Errored != len(list) {
		t.Errorf("sent+errored = %d, want %d", report.Sent+report.Errored, len(list))
	}
	if report.Errored < 2 {
		t.Errorf("errored = %d, want >= 2 for the blank phones", report.Errored)
	}
	if len(ft.chats) != 3 {
		t.Errorf("requests made = %d, want 3 (skips make no request)", len(ft.chats))
	}
}

func TestRunTextProviderFailureDoesNotStopRun(t *testing.T) {
	list := recipients(6)
	ft := &fakeTransport{failPhones: map[string]bool{list[2].Phone: true}}

	eng := New(ft, ratelimit.NewPacer(0, 0), nil, nil, discardLogger(), Options{BatchSize: 10})

	report, err := eng.RunText(context.Background(), list, "hi")
	if err != nil {
		t.Fatalf("RunText: %v", err)
	}

	if report.Sent != 5 || report.Errored != 1 {
		t.Errorf("sent=%d errored=%d, want 5/1", report.Sent, report.Errored)
	}
	if len(report.Errors) != 1 || report.Errors[0].Ref != list[2].Ref() {
		t.Errorf("error log = %+v, want exactly one entry for %q", report.Errors, list[2].Ref())
	}
	if !strings.Contains(report.Errors[0].Message, "instance busy") {
		t.Errorf("provider message not preserved: %q", report.Errors[0].Message)
	}
}

func TestRunTextDryRunMakesNoCalls(t *testing.T) {
	ft := &fakeTransport{}
	var msgPauses, batchPauses int

	eng := New(ft, silentPacer(&msgPauses, &batchPauses), nil, nil, discardLogger(), Options{BatchSize: 2, DryRun: true})

	report, err := eng.RunText(context.Background(), recipients(5), "Hello {name}!")
	if err != nil {
		t.Fatalf("RunText: %v", err)
	}

	if len(ft.chats) != 0 {
		t.Errorf("dry run made %d requests", len(ft.chats))
	}
	if report.Sent != 5 || !report.DryRun {
		t.Errorf("report = %+v, want 5 previews flagged dry_run", report)
	}
	if report.Results[0].Preview != "Hello Customer 0!" {
		t.Errorf("preview = %q", report.Results[0].Preview)
	}
	// Identical pacing structure to a live run.
	if batchPauses != 2 || msgPauses != 5 {
		t.Errorf("pauses = %d msg / %d batch, want 5/2", msgPauses, batchPauses)
	}
}

type countingRecorder struct {
	sent, failed, uploads int
}

func (c *countingRecorder) RecordSent()                { c.sent++ }
func (c *countingRecorder) RecordFailed(reason string) { c.failed++ }
func (c *countingRecorder) RecordUpload()              { c.uploads++ }

func TestRunTextDryRunDoesNotRecord(t *testing.T) {
	list := recipients(4)
	list[1].Phone = ""

	rec := &countingRecorder{}
	eng := New(nil, ratelimit.NewPacer(0, 0), nil, rec, discardLogger(), Options{BatchSize: 10, DryRun: true})

	report, err := eng.RunText(context.Background(), list, "hi {name}")
	if err != nil {
		t.Fatalf("RunText: %v", err)
	}

	if report.Sent != 3 || report.Errored != 1 {
		t.Errorf("sent=%d errored=%d, want 3/1", report.Sent, report.Errored)
	}
	if rec.sent != 0 || rec.failed != 0 {
		t.Errorf("recorder saw sent=%d failed=%d during dry run, want 0/0", rec.sent, rec.failed)
	}
}

func TestRunTextRecorderCounts(t *testing.T) {
	list := recipients(4)
	list[1].Phone = ""

	rec := &countingRecorder{}
	eng := New(&fakeTransport{}, ratelimit.NewPacer(0, 0), nil, rec, discardLogger(), Options{BatchSize: 10})

	if _, err := eng.RunText(context.Background(), list, "hi"); err != nil {
		t.Fatalf("RunText: %v", err)
	}
	if rec.sent != 3 || rec.failed != 1 {
		t.Errorf("recorder sent=%d failed=%d, want 3/1", rec.sent, rec.failed)
	}
}

func TestRunImageUploadOnce(t *testing.T) {
	ft := &fakeTransport{}
	eng := New(ft, ratelimit.NewPacer(0, 0), nil, nil, discardLogger(), Options{BatchSize: 4})

	report, err := eng.RunImageUpload(context.Background(), recipients(9), []byte("png-bytes"), "promo.png", "image/png", "For you, {name}")
	if err != nil {
		t.Fatalf("RunImageUpload: %v", err)
	}

	if ft.uploads != 1 {
		t.Errorf("uploads = %d, want exactly 1", ft.uploads)
	}
	if report.Sent != 9 {
		t.Errorf("sent = %d, want 9", report.Sent)
	}
	for _, call := range ft.images {
		if !strings.Contains(call, "|"+ft.uploadURL+"|") {
			t.Errorf("send used a different media URL: %q", call)
		}
	}
}

func TestRunImageUploadFailureAborts(t *testing.T) {
	ft := &fakeTransport{uploadErr: &ultramsg.UploadError{StatusCode: 500, Body: "storage full"}}
	eng := New(ft, ratelimit.NewPacer(0, 0), nil, nil, discardLogger(), Options{BatchSize: 4})

	_, err := eng.RunImageUpload(context.Background(), recipients(3), []byte("x"), "a.png", "image/png", "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if eng.State() != StateAborted {
		t.Errorf("state = %q, want aborted", eng.State())
	}
	if len(ft.images) != 0 {
		t.Errorf("%d sends attempted after failed upload, want 0", len(ft.images))
	}
}

func TestRunTextPoolMode(t *testing.T) {
	ft := &fakeTransport{}
	eng := New(ft, ratelimit.NewPacer(0, 0), nil, nil, discardLogger(), Options{BatchSize: 10, Concurrency: 5})

	report, err := eng.RunText(context.Background(), recipients(23), "hi {name}")
	if err != nil {
		t.Fatalf("RunText: %v", err)
	}

	if report.Sent != 23 || report.Errored != 0 {
		t.Errorf("sent=%d errored=%d, want 23/0", report.Sent, report.Errored)
	}
	if len(report.Results) != 23 {
		t.Errorf("results = %d, want one per recipient", len(report.Results))
	}
}

type denyAllLimiter struct{}

func (denyAllLimiter) Allow(ctx context.Context, req *ratelimit.Request) (*ratelimit.Result, error) {
	return &ratelimit.Result{Allowed: false, DeniedBy: ratelimit.LevelInstance, RetryAfter: time.Minute}, nil
}

func TestRunTextLimiterDenialCountsAsError(t *testing.T) {
	ft := &fakeTransport{}
	eng := New(ft, ratelimit.NewPacer(0, 0), denyAllLimiter{}, nil, discardLogger(), Options{BatchSize: 10})

	report, err := eng.RunText(context.Background(), recipients(3), "hi")
	if err != nil {
		t.Fatalf("RunText: %v", err)
	}

	if report.Errored != 3 || report.Sent != 0 {
		t.Errorf("sent=%d errored=%d, want 0/3", report.Sent, report.Errored)
	}
	if len(ft.chats) != 0 {
		t.Errorf("denied sends still hit transport: %d", len(ft.chats))
	}
	if report.State != StateCompleted {
		t.Errorf("state = %q, denials must not abort the run", report.State)
	}
}

func TestRunTextNoTransport(t *testing.T) {
	eng := New(nil, nil, nil, nil, discardLogger(), Options{})

	if _, err := eng.RunText(context.Background(), recipients(2), "hi"); err != ErrNotConfigured {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
	if eng.State() != StateAborted {
		t.Errorf("state = %q, want aborted", eng.State())
	}

	// Dry run needs no transport.
	eng = New(nil, nil, nil, nil, discardLogger(), Options{DryRun: true})
	report, err := eng.RunText(context.Background(), recipients(2), "hi")
	if err != nil || report.Sent != 2 {
		t.Errorf("dry run without transport: report=%+v err=%v", report, err)
	}
}
