package api

import (
	"sync"
	"testing"
	"time"

	"github.com/wablast/wablast/internal/contacts"
)

func TestSessionStoreSweep(t *testing.T) {
	store := newSessionStore(time.Minute)
	defer store.stop()

	sess := store.create(contacts.Sample())
	if _, ok := store.get(sess.ID); !ok {
		t.Fatal("session missing right after create")
	}

	// Not yet expired.
	store.sweep(time.Now().Add(30 * time.Second))
	if _, ok := store.get(sess.ID); !ok {
		t.Fatal("session swept before TTL")
	}

	// get refreshed UsedAt; expire well past it.
	store.sweep(time.Now().Add(2 * time.Hour))
	if _, ok := store.get(sess.ID); ok {
		t.Fatal("expired session survived sweep")
	}
}

func TestSessionSelectionUpdate(t *testing.T) {
	store := newSessionStore(time.Minute)
	defer store.stop()

	sess := store.create(contacts.Sample())
	narrowed := contacts.Range(sess.Contacts, 0, 1)

	if !store.setSelection(sess.ID, narrowed) {
		t.Fatal("setSelection failed")
	}
	got, _ := store.get(sess.ID)
	if len(got.Selection) != 2 || len(got.Contacts) != 6 {
		t.Errorf("selection=%d contacts=%d, want 2/6", len(got.Selection), len(got.Contacts))
	}

	if store.setSelection("missing", narrowed) {
		t.Error("setSelection on unknown session reported success")
	}
}

func TestSessionGetReturnsSnapshot(t *testing.T) {
	store := newSessionStore(time.Minute)
	defer store.stop()

	list := contacts.Sample()
	sess := store.create(list)

	before, ok := store.get(sess.ID)
	if !ok {
		t.Fatal("session missing")
	}

	store.setSelection(sess.ID, contacts.Range(list, 0, 1))

	if len(before.Selection) != len(list) {
		t.Errorf("earlier snapshot changed under it: selection=%d, want %d", len(before.Selection), len(list))
	}
	after, _ := store.get(sess.ID)
	if len(after.Selection) != 2 {
		t.Errorf("selection=%d after update, want 2", len(after.Selection))
	}
}

// A dispatch reading its selection while the operator re-selects must
// not race on the session. Run with -race.
func TestSessionConcurrentSelectAndRead(t *testing.T) {
	store := newSessionStore(time.Minute)
	defer store.stop()

	list := contacts.Sample()
	sess := store.create(list)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			store.setSelection(sess.ID, contacts.Range(list, 0, i%len(list)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			got, ok := store.get(sess.ID)
			if !ok {
				t.Error("session disappeared")
				return
			}
			if n := len(got.Selection); n < 1 || n > len(list) {
				t.Errorf("selection length %d out of range", n)
				return
			}
		}
	}()

	wg.Wait()
}
