package sessions_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mcpgate/mcp-gate-go/internal/jsonrpc"
	"github.com/mcpgate/mcp-gate-go/sessions"
)

type stubTransport struct {
	id     string
	closed int
}

func (t *stubTransport) SessionID() string { return t.id }

func (t *stubTransport) Deliver(ctx context.Context, msg *jsonrpc.AnyMessage) (*jsonrpc.Response, error) {
	return nil, nil
}

func (t *stubTransport) Stream(ctx context.Context, write sessions.MessageWriterFunc) error {
	return nil
}

func (t *stubTransport) Close(ctx context.Context) error {
	t.closed++
	return nil
}

func newStubSession(id string) *sessions.Session {
	return sessions.NewSession(id, &stubTransport{id: id})
}

func TestRegistryInsertActivates(t *testing.T) {
	reg := sessions.NewRegistry(nil)
	sess := newStubSession("s1")

	if got := sess.State(); got != sessions.StatePending {
		t.Fatalf("new session state = %s, want %s", got, sessions.StatePending)
	}
	if err := reg.Insert(sess); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := sess.State(); got != sessions.StateActive {
		t.Fatalf("state after insert = %s, want %s", got, sessions.StateActive)
	}

	found, ok := reg.Lookup("s1")
	if !ok || found != sess {
		t.Fatalf("lookup returned (%v, %v), want inserted session", found, ok)
	}
	if reg.Len() != 1 {
		t.Fatalf("len = %d, want 1", reg.Len())
	}
}

func TestRegistryInsertDuplicateFailsAtomically(t *testing.T) {
	reg := sessions.NewRegistry(nil)
	first := newStubSession("dup")
	if err := reg.Insert(first); err != nil {
		t.Fatalf("insert: %v", err)
	}

	second := newStubSession("dup")
	err := reg.Insert(second)
	if !errors.Is(err, sessions.ErrSessionExists) {
		t.Fatalf("duplicate insert err = %v, want ErrSessionExists", err)
	}
	// The loser must not have been activated.
	if got := second.State(); got != sessions.StatePending {
		t.Fatalf("loser state = %s, want %s", got, sessions.StatePending)
	}
	if found, _ := reg.Lookup("dup"); found != first {
		t.Fatalf("registry entry replaced by failed insert")
	}
	if reg.Len() != 1 {
		t.Fatalf("len = %d, want 1", reg.Len())
	}
}

func TestRegistryRemoveClosesAndForgets(t *testing.T) {
	reg := sessions.NewRegistry(nil)
	sess := newStubSession("gone")
	if err := reg.Insert(sess); err != nil {
		t.Fatalf("insert: %v", err)
	}

	reg.Remove("gone")
	if got := sess.State(); got != sessions.StateClosed {
		t.Fatalf("state after remove = %s, want %s", got, sessions.StateClosed)
	}
	if _, ok := reg.Lookup("gone"); ok {
		t.Fatalf("removed session still resolvable")
	}

	// A removed id behaves exactly like one that was never issued.
	reg.Remove("gone")
	reg.Remove("never-issued")
	if reg.Len() != 0 {
		t.Fatalf("len = %d, want 0", reg.Len())
	}
}

func TestRegistryRemoveSessionChecksOwnership(t *testing.T) {
	reg := sessions.NewRegistry(nil)
	winner := newStubSession("shared")
	if err := reg.Insert(winner); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// A second session built for the same id but never registered, as left
	// behind by a lost bootstrap race.
	loser := newStubSession("shared")
	reg.RemoveSession(loser)

	if got := loser.State(); got != sessions.StateClosed {
		t.Fatalf("loser state = %s, want %s", got, sessions.StateClosed)
	}
	if got := winner.State(); got != sessions.StateActive {
		t.Fatalf("winner state = %s, want %s (must not be closed by loser cleanup)", got, sessions.StateActive)
	}
	if found, ok := reg.Lookup("shared"); !ok || found != winner {
		t.Fatalf("winner evicted by loser cleanup")
	}

	// Removing the registered session itself still works.
	reg.RemoveSession(winner)
	if _, ok := reg.Lookup("shared"); ok {
		t.Fatalf("owned removal left the entry behind")
	}
	if reg.Len() != 0 {
		t.Fatalf("len = %d, want 0", reg.Len())
	}
}

func TestRegistryInsertAfterCloseFails(t *testing.T) {
	reg := sessions.NewRegistry(nil)
	sess := newStubSession("reused")
	if err := reg.Insert(sess); err != nil {
		t.Fatalf("insert: %v", err)
	}
	reg.Remove("reused")

	if err := reg.Insert(sess); !errors.Is(err, sessions.ErrSessionClosed) {
		t.Fatalf("reinsert of closed session err = %v, want ErrSessionClosed", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("len = %d, want 0", reg.Len())
	}
}
