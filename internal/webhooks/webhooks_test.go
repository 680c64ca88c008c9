package webhooks_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"

	"github.com/lherron/redline/internal/domain"
	"github.com/lherron/redline/internal/webhooks"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTargets(t *testing.T) {
	d := webhooks.New([]string{
		"http://example.com/hook/{merge_id}",
		"ftp://invalid.example.com/hook",
		" http://example.com/hook/{merge_id}/ ",
		"http://example.com/events/{event}/",
		"",
	}, quietLogger())

	urls := d.Targets(webhooks.Payload{MergeID: "M-00001", Event: "merge.finalized"})
	expected := []string{
		"http://example.com/hook/M-00001",
		"http://example.com/events/merge.finalized",
	}
	if !reflect.DeepEqual(urls, expected) {
		t.Fatalf("unexpected urls\nexpected: %v\nactual:   %v", expected, urls)
	}
}

func TestDispatchPostsPayload(t *testing.T) {
	var mu sync.Mutex
	var got []webhooks.Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		var p webhooks.Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode failed: %v", err)
		}
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	}))
	defer srv.Close()

	docID := "01JNKX3Z5V6Y7W8Q9R0S1T2U3V"
	row := &domain.MergeSession{
		UUID:           "550e8400-e29b-41d4-a716-446655440000",
		ID:             "M-00003",
		Status:         domain.MergeStatusFinalized,
		Strategy:       "CONSENSUS",
		ConflictsCount: 2,
		ResolvedCount:  1,
		DocumentID:     &docID,
		ETag:           4,
	}

	d := webhooks.New([]string{srv.URL + "/a", srv.URL + "/b"}, quietLogger())
	d.Dispatch(webhooks.PayloadFor("merge.finalized", row))

	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	for _, p := range got {
		if p.MergeID != "M-00003" || p.Event != "merge.finalized" || p.ETag != 4 {
			t.Errorf("unexpected payload %+v", p)
		}
		if p.DocumentID == nil || *p.DocumentID != docID {
			t.Errorf("expected document id %s, got %v", docID, p.DocumentID)
		}
	}
}

func TestDispatchToleratesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := webhooks.New([]string{srv.URL, "http://127.0.0.1:1/unreachable"}, quietLogger())
	d.Dispatch(webhooks.Payload{MergeID: "M-00001"})
}

func TestDisabledDispatcher(t *testing.T) {
	var d *webhooks.Dispatcher
	if d.Enabled() {
		t.Error("nil dispatcher should be disabled")
	}
	if webhooks.New(nil, nil).Enabled() {
		t.Error("dispatcher without urls should be disabled")
	}
}
