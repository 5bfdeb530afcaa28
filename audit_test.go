package authflux

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	events []AuditEvent
	gate   chan struct{}
}

func (s *recordingSink) Emit(_ context.Context, event AuditEvent) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDelivers(t *testing.T) {
	sink := &recordingSink{}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 8}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: auditEventIssueSuccess})
	}
	d.Close()

	if got := sink.len(); got != 5 {
		t.Fatalf("delivered = %d, want 5", got)
	}
	if got := d.Dropped(); got != 0 {
		t.Fatalf("dropped = %d, want 0", got)
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	sink := &recordingSink{gate: make(chan struct{})}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 2, DropIfFull: true}, sink)

	// The worker blocks on the gate holding one event; two more fill the
	// buffer; everything past that is dropped.
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: auditEventLogout})
	}

	deadline := time.Now().Add(2 * time.Second)
	for d.Dropped() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a saturated buffer")
	}

	close(sink.gate)
	d.Close()

	if got := uint64(sink.len()) + d.Dropped(); got != 10 {
		t.Fatalf("delivered + dropped = %d, want 10", got)
	}
}

func TestDispatcherCloseDrains(t *testing.T) {
	sink := &recordingSink{}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 64}, sink)

	for i := 0; i < 30; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: auditEventRefreshSuccess})
	}
	d.Close()

	if got := sink.len(); got != 30 {
		t.Fatalf("delivered after Close = %d, want 30", got)
	}

	// Emit after Close is a silent no-op.
	d.Emit(context.Background(), AuditEvent{EventType: auditEventRefreshSuccess})
	if got := sink.len(); got != 30 {
		t.Fatalf("delivered after post-Close emit = %d, want 30", got)
	}
}

func TestDispatcherDisabled(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{}, &recordingSink{})
	if d != nil {
		t.Fatal("disabled config should produce a nil dispatcher")
	}
	d.Emit(context.Background(), AuditEvent{}) // must not panic
	d.Close()
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{
		EventType: auditEventRefreshReuseDetected,
		Subject:   "user-1",
		Success:   false,
		Error:     string(auditErrTokenReuse),
		Metadata:  map[string]string{"chain_revoked": "3"},
	})
	sink.Emit(context.Background(), AuditEvent{EventType: auditEventLogout, Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}

	var event AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if event.EventType != auditEventRefreshReuseDetected || event.Error != string(auditErrTokenReuse) {
		t.Fatalf("event = %+v", event)
	}
	if event.Metadata["chain_revoked"] != "3" {
		t.Fatalf("metadata = %+v", event.Metadata)
	}
}

func TestAuditErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		want AuditErrorCode
	}{
		{nil, ""},
		{ErrInvalidRequest, auditErrInvalidRequest},
		{ErrInvalidToken, auditErrInvalidToken},
		{ErrUserNotFound, auditErrUserNotFound},
		{ErrAccessTokenInvalid, auditErrInvalidToken},
		{context.DeadlineExceeded, auditErrInternal},
	}
	for _, tc := range cases {
		if got := auditErrorCode(tc.err); got != tc.want {
			t.Fatalf("auditErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
