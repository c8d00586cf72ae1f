package submission

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"saltapi/internal/proposal"
)

func TestSubmitForwardsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/submissions/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		if got := r.FormValue("submitter"); got != "pi" {
			t.Errorf("submitter = %q", got)
		}
		if got := r.FormValue("proposal_code"); got != "2021-1-SCI-017" {
			t.Errorf("proposal_code = %q", got)
		}
		f, hdr, err := r.FormFile("proposal")
		if err != nil {
			t.Errorf("FormFile: %v", err)
		} else {
			data, _ := io.ReadAll(f)
			if string(data) != "zip-bytes" || hdr.Filename != "p.zip" {
				t.Errorf("unexpected file %q (%s)", data, hdr.Filename)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"submission_id":"sub-42"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/", time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	code := proposal.Code("2021-1-SCI-017")
	id, err := c.Submit(context.Background(), "pi", &code, "p.zip", strings.NewReader("zip-bytes"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "sub-42" {
		t.Fatalf("submission id = %q", id)
	}
}

func TestSubmitNewProposalOmitsCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(1 << 20)
		if _, ok := r.MultipartForm.Value["proposal_code"]; ok {
			t.Errorf("proposal_code must be omitted for new proposals")
		}
		_, _ = w.Write([]byte(`{"submission_id":"sub-1"}`))
	}))
	defer srv.Close()

	c, _ := New(srv.URL, time.Second)
	if _, err := c.Submit(context.Background(), "pi", nil, "", strings.NewReader("x")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestSubmitRejected(t *testing.T) {
	cases := []struct {
		name string
		code int
		body string
	}{
		{"server error", http.StatusInternalServerError, "boom"},
		{"bad request", http.StatusBadRequest, `{"error":"invalid proposal"}`},
		{"missing id", http.StatusOK, `{}`},
		{"not json", http.StatusOK, `ok`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c, _ := New(srv.URL, time.Second)
			_, err := c.Submit(context.Background(), "pi", nil, "p.zip", strings.NewReader("x"))
			if !errors.Is(err, ErrRejected) {
				t.Fatalf("expected ErrRejected, got %v", err)
			}
			if errors.Is(err, ErrTransport) {
				t.Fatalf("rejections must not be transport errors")
			}
		})
	}
}

func TestSubmitTimeoutIsTransportErrorWithoutRetry(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, _ := New(srv.URL, 50*time.Millisecond)
	_, err := c.Submit(context.Background(), "pi", nil, "p.zip", strings.NewReader("x"))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected a single attempt, got %d", n)
	}
}

func TestSubmitConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, _ := New(url, time.Second)
	if _, err := c.Submit(context.Background(), "pi", nil, "p.zip", strings.NewReader("x")); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "/relative"} {
		if _, err := New(raw, time.Second); err == nil {
			t.Fatalf("New(%q): expected error", raw)
		}
	}
}
