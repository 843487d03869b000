package ultramsg

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wablast/wablast/internal/phone"
)

func TestSendChat(t *testing.T) {
	var gotPath string
	var gotForm map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotForm = map[string]string{
			"token": r.PostFormValue("token"),
			"to":    r.PostFormValue("to"),
			"body":  r.PostFormValue("body"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sent":"true","id":101}`))
	}))
	defer srv.Close()

	client := NewClient("instance42", "secret", WithBaseURL(srv.URL))

	resp, err := client.SendChat(context.Background(), "+1 (234) 567-890", "Hello Ann!")
	if err != nil {
		t.Fatalf("SendChat() error: %v", err)
	}

	if gotPath != "/instance42/messages/chat" {
		t.Errorf("path = %q", gotPath)
	}
	if gotForm["token"] != "secret" {
		t.Errorf("token = %q", gotForm["token"])
	}
	if gotForm["to"] != "1234567890" {
		t.Errorf("to = %q, want wire form without +", gotForm["to"])
	}
	if gotForm["body"] != "Hello Ann!" {
		t.Errorf("body = %q", gotForm["body"])
	}
	if resp.Sent != "true" {
		t.Errorf("resp.Sent = %q", resp.Sent)
	}
}

func TestSendImage(t *testing.T) {
	var gotForm map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotForm = map[string]string{
			"to":      r.PostFormValue("to"),
			"image":   r.PostFormValue("image"),
			"caption": r.PostFormValue("caption"),
		}
		w.Write([]byte(`{"sent":"true"}`))
	}))
	defer srv.Close()

	client := NewClient("i", "t", WithBaseURL(srv.URL))

	if _, err := client.SendImage(context.Background(), "+111222333", "https://img.example/a.jpg", "Look!"); err != nil {
		t.Fatalf("SendImage() error: %v", err)
	}
	if gotForm["to"] != "111222333" || gotForm["image"] != "https://img.example/a.jpg" || gotForm["caption"] != "Look!" {
		t.Errorf("form = %v", gotForm)
	}
}

func TestSendChatProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "instance not authorized", http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient("i", "t", WithBaseURL(srv.URL))

	_, err := client.SendChat(context.Background(), "+123456", "hi")
	provErr, ok := err.(*ProviderError)
	if !ok {
		t.Fatalf("error = %T (%v), want *ProviderError", err, err)
	}
	if provErr.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d", provErr.StatusCode)
	}
	if provErr.Body == "" {
		t.Error("provider body not preserved")
	}
}

func TestSendChatInvalidPhone(t *testing.T) {
	client := NewClient("i", "t", WithBaseURL("http://127.0.0.1:0"))
	if _, err := client.SendChat(context.Background(), "no-digits", "hi"); err != phone.ErrInvalid {
		t.Fatalf("error = %v, want phone.ErrInvalid", err)
	}
}

func TestUpload(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if r.PostFormValue("token") != "tok" {
			t.Errorf("token = %q", r.PostFormValue("token"))
		}
		file, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		file.Close()
		if hdr.Filename != "promo.png" {
			t.Errorf("filename = %q", hdr.Filename)
		}
		if ct := hdr.Header.Get("Content-Type"); ct != "image/png" {
			t.Errorf("content type = %q", ct)
		}
		w.Write([]byte(`{"success":"https://cdn.example/media/abc.png"}`))
	}))
	defer srv.Close()

	client := NewClient("i", "tok", WithBaseURL(srv.URL))

	url, err := client.Upload(context.Background(), []byte{0x89, 0x50}, "promo.png", "image/png")
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if url != "https://cdn.example/media/abc.png" {
		t.Errorf("url = %q", url)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestUploadMissingURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"done"}`))
	}))
	defer srv.Close()

	client := NewClient("i", "t", WithBaseURL(srv.URL))

	_, err := client.Upload(context.Background(), []byte("x"), "a.jpg", "image/jpeg")
	if _, ok := err.(*UploadError); !ok {
		t.Fatalf("error = %T (%v), want *UploadError", err, err)
	}
}

func TestUploadHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too large", http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()

	client := NewClient("i", "t", WithBaseURL(srv.URL))

	_, err := client.Upload(context.Background(), []byte("x"), "a.jpg", "image/jpeg")
	upErr, ok := err.(*UploadError)
	if !ok {
		t.Fatalf("error = %T, want *UploadError", err)
	}
	if upErr.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d", upErr.StatusCode)
	}
}
