package worker

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/warpdl/esgfetch/internal/catalog"
	"github.com/warpdl/esgfetch/internal/writer"
)

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func newTestWorker(t *testing.T, basePath string, bus chan Event, client *http.Client, tr catalog.Transfer) *Worker {
	t.Helper()
	w := writer.New(4)
	w.Start(context.Background())
	t.Cleanup(func() { _ = w.Shutdown(context.Background()) })
	return New(Config{
		Client:   client,
		Writer:   w,
		BasePath: basePath,
		EventBus: bus,
	}, tr)
}

func collectEvents(bus chan Event, done chan struct{}) []Event {
	var out []Event
	for {
		select {
		case e := <-bus:
			out = append(out, e)
		case <-done:
			// Drain whatever is already queued before returning.
			for {
				select {
				case e := <-bus:
					out = append(out, e)
				default:
					return out
				}
			}
		}
	}
}

func TestWorker_HappyPath(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer server.Close()

	dir := t.TempDir()
	bus := make(chan Event, 16)
	tr := catalog.Transfer{
		TransferID:   1,
		Datanode:     "example.org",
		Location:     server.URL,
		Checksum:     md5Hex(content),
		ChecksumType: string(catalog.ChecksumMD5),
		LocalImage:   "sub/dir/file.nc",
	}
	w := newTestWorker(t, dir, bus, server.Client(), tr)

	done := make(chan struct{})
	go func() { w.Run(context.Background()); close(done) }()
	events := collectEvents(bus, done)

	var sawDone bool
	for _, e := range events {
		if _, ok := e.(EventDone); ok {
			sawDone = true
		}
		if ee, ok := e.(EventError); ok {
			t.Fatalf("unexpected EventError: %+v", ee)
		}
	}
	if !sawDone {
		t.Fatalf("expected EventDone, got events: %+v", events)
	}

	got, err := os.ReadFile(filepath.Join(dir, "sub/dir/file.nc"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("file contents = %q, want %q", got, content)
	}
}

func TestWorker_ChecksumMismatch(t *testing.T) {
	content := []byte("some bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer server.Close()

	dir := t.TempDir()
	bus := make(chan Event, 16)
	tr := catalog.Transfer{
		TransferID:   2,
		Datanode:     "example.org",
		Location:     server.URL,
		Checksum:     "0000000000000000000000000000000",
		ChecksumType: string(catalog.ChecksumMD5),
		LocalImage:   "file.nc",
	}
	w := newTestWorker(t, dir, bus, server.Client(), tr)

	done := make(chan struct{})
	go func() { w.Run(context.Background()); close(done) }()
	events := collectEvents(bus, done)

	var errEvent *EventError
	for _, e := range events {
		if ee, ok := e.(EventError); ok {
			errEvent = &ee
		}
	}
	if errEvent == nil || errEvent.Kind != ErrorChecksumMismatch {
		t.Fatalf("expected EventError(CHECKSUM_MISMATCH_ERROR), got %+v", events)
	}
	if _, err := os.Stat(filepath.Join(dir, "file.nc")); !os.IsNotExist(err) {
		t.Fatalf("expected target file removed after checksum mismatch, stat err = %v", err)
	}
}

func TestWorker_UnsupportedChecksumType_Returns(t *testing.T) {
	// An unsupported checksum type must short-circuit before any
	// network request is made.
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dir := t.TempDir()
	bus := make(chan Event, 16)
	tr := catalog.Transfer{
		TransferID:   3,
		Datanode:     "example.org",
		Location:     server.URL,
		Checksum:     "irrelevant",
		ChecksumType: "SHA256",
		LocalImage:   "file.nc",
	}
	w := newTestWorker(t, dir, bus, server.Client(), tr)

	done := make(chan struct{})
	go func() { w.Run(context.Background()); close(done) }()
	events := collectEvents(bus, done)

	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %+v", events)
	}
	ee, ok := events[0].(EventError)
	if !ok || ee.Kind != ErrorUnsupportedChecksumType {
		t.Fatalf("expected EventError(UNSUPPORTED_CHECKSUM_TYPE), got %+v", events[0])
	}
	if called {
		t.Fatal("worker must return before making any HTTP request for an unsupported checksum type")
	}
}

func TestWorker_HTTPStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusForbidden, ErrorAuthFail},
		{http.StatusNotFound, ErrorFileNotFound},
		{http.StatusInternalServerError, ErrorServer},
		{http.StatusTeapot, ErrorKind("418")},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			dir := t.TempDir()
			bus := make(chan Event, 4)
			tr := catalog.Transfer{
				TransferID:   4,
				Datanode:     "example.org",
				Location:     server.URL,
				Checksum:     "x",
				ChecksumType: string(catalog.ChecksumMD5),
				LocalImage:   "file.nc",
			}
			w := newTestWorker(t, dir, bus, server.Client(), tr)

			done := make(chan struct{})
			go func() { w.Run(context.Background()); close(done) }()
			events := collectEvents(bus, done)

			if len(events) != 1 {
				t.Fatalf("expected one event, got %+v", events)
			}
			ee, ok := events[0].(EventError)
			if !ok || ee.Kind != tt.kind {
				t.Fatalf("expected EventError(%v), got %+v", tt.kind, events[0])
			}
		})
	}
}

func TestWorker_Abort(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 100; i++ {
			select {
			case <-block:
				return
			default:
			}
			w.Write([]byte("x"))
			flusher.Flush()
			time.Sleep(10 * time.Millisecond)
		}
	}))
	defer server.Close()
	defer close(block)

	dir := t.TempDir()
	bus := make(chan Event, 64)
	tr := catalog.Transfer{
		TransferID:   5,
		Datanode:     "example.org",
		Location:     server.URL,
		Checksum:     "x",
		ChecksumType: string(catalog.ChecksumMD5),
		LocalImage:   "file.nc",
	}
	w := newTestWorker(t, dir, bus, server.Client(), tr)

	done := make(chan struct{})
	go func() { w.Run(context.Background()); close(done) }()

	time.Sleep(30 * time.Millisecond)
	w.Abort()

	events := collectEvents(bus, done)
	var sawAbort bool
	for _, e := range events {
		if _, ok := e.(EventAborted); ok {
			sawAbort = true
		}
	}
	if !sawAbort {
		t.Fatalf("expected EventAborted after Abort(), got %+v", events)
	}
	if _, err := os.Stat(filepath.Join(dir, "file.nc")); !os.IsNotExist(err) {
		t.Fatalf("expected partial file removed after abort, stat err = %v", err)
	}
}
