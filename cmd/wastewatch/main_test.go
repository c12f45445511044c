package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"wastewatch/internal/amqp"
	apphttp "wastewatch/internal/http"
	"wastewatch/internal/ingest"
	"wastewatch/internal/log"
	"wastewatch/internal/session"
	"wastewatch/internal/sheets/memory"
)

type stubReceiver struct {
	err       error
	transport string
}

func (s *stubReceiver) Receive(_ context.Context, transport string, _ []byte) (ingest.Result, error) {
	s.transport = transport
	return ingest.Result{}, s.err
}

func TestAMQPHandler(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantErr     bool
		wantDiscard bool
	}{
		{"applied", nil, false, false},
		{"malformed", ingest.ErrMalformed, true, true},
		{"aborted", fmt.Errorf("%w: boom", ingest.ErrAborted), true, true},
		{"store failure", errors.New("disk full"), true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &stubReceiver{err: tt.err}
			err := amqpHandler(r)(context.Background(), []byte(`{}`))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v", err)
			}
			var d amqp.Discard
			if got := errors.As(err, &d); got != tt.wantDiscard {
				t.Fatalf("discard=%v want %v", got, tt.wantDiscard)
			}
			if r.transport != log.TransportAMQP {
				t.Errorf("transport=%q", r.transport)
			}
		})
	}
}

func TestIgnoreCanceled(t *testing.T) {
	if ignoreCanceled(context.Canceled) != nil {
		t.Error("canceled should be ignored")
	}
	if ignoreCanceled(fmt.Errorf("consume: %w", context.Canceled)) != nil {
		t.Error("wrapped canceled should be ignored")
	}
	if ignoreCanceled(errors.New("boom")) == nil {
		t.Error("other errors must pass through")
	}
}

func TestReadPayload(t *testing.T) {
	got, err := readPayload(strings.NewReader("  {\"record\":{}}\n"), "-")
	if err != nil || string(got) != `{"record":{}}` {
		t.Fatalf("stdin: %q %v", got, err)
	}

	path := filepath.Join(t.TempDir(), "p.json")
	if err := os.WriteFile(path, []byte(`[1,2]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if got, err := readPayload(nil, path); err != nil || string(got) != "[1,2]" {
		t.Fatalf("file: %q %v", got, err)
	}

	if _, err := readPayload(strings.NewReader("{"), "-"); err == nil {
		t.Fatal("invalid JSON accepted")
	}
	if _, err := readPayload(nil, filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestPostPayloadAgainstServer(t *testing.T) {
	sess := session.New(session.Options{Store: memory.New(nil)})
	srv := apphttp.NewServer(":0", apphttp.Options{Session: sess, Logger: log.New(log.Config{Level: 100})})
	defer srv.Shutdown(context.Background())
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	body, err := postPayload(context.Background(), newHTTPClient(0), ts.URL+"/",
		[]byte(`{"record":{"date":"2024-05-01","recyclable":{"paper":2}}}`))
	if err != nil {
		t.Fatalf("postPayload: %v", err)
	}
	if !bytes.Contains(body, []byte(`"variant":"append"`)) {
		t.Errorf("body=%s", body)
	}
	recs, _ := sess.Records(context.Background())
	if len(recs) != 1 || recs[0].Recyclable.Paper != 2 {
		t.Fatalf("records=%+v", recs)
	}

	if _, err := postPayload(context.Background(), newHTTPClient(0), ts.URL, []byte(`{`)); err == nil {
		t.Fatal("malformed payload should be rejected")
	}
}

func TestPostPayloadRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"variant":"none"}`))
	}))
	defer ts.Close()

	client := newHTTPClient(2)
	client.RetryWaitMin, client.RetryWaitMax = 0, 0
	if _, err := postPayload(context.Background(), client, ts.URL, []byte(`{}`)); err != nil {
		t.Fatalf("postPayload: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls=%d", calls.Load())
	}
}
