package subscriber

import (
	"errors"
	"sync"
	"testing"

	"badgewatch/internal/snapshot"
)

func TestConfigureResetsState(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	gen := r.Configure(1, Credentials{Login: "u", Password: "p"})
	r.RecordSnapshot(1, gen, snapshot.Snapshot{"A": 2})
	r.MarkErrorReported(1, gen, true)

	gen2 := r.Configure(1, Credentials{Login: "u2", Password: "p2"})
	if gen2 == gen {
		t.Fatalf("Configure did not advance generation")
	}
	creds, g, ok := r.Credentials(1)
	if !ok || creds.Login != "u2" || g != gen2 {
		t.Fatalf("Credentials = %v, %d, %v", creds, g, ok)
	}
	snap, recorded, ok := r.Snapshot(1)
	if !ok || recorded || len(snap) != 0 {
		t.Fatalf("Snapshot after Configure = %v, recorded=%v ok=%v", snap, recorded, ok)
	}
	if r.WasErrorReported(1) {
		t.Fatalf("error flag survived Configure")
	}
	if got := r.State(1); got != Fresh {
		t.Fatalf("State = %v, want fresh", got)
	}
}

func TestResetUnknownIsNoop(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if r.Reset(99) {
		t.Fatalf("Reset(unknown) = true")
	}
	r.Configure(1, Credentials{Login: "u", Password: "p"})
	if !r.Reset(1) {
		t.Fatalf("Reset(known) = false")
	}
	if _, _, ok := r.Credentials(1); ok {
		t.Fatalf("credentials survived Reset")
	}
	if got := r.State(1); got != Unconfigured {
		t.Fatalf("State = %v, want unconfigured", got)
	}
}

func TestStaleGenerationIgnored(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	old := r.Configure(1, Credentials{Login: "u", Password: "p"})
	cur := r.Configure(1, Credentials{Login: "u", Password: "p"})

	if r.RecordSnapshot(1, old, snapshot.Snapshot{"A": 1}) {
		t.Fatalf("RecordSnapshot accepted stale generation")
	}
	if r.MarkErrorReported(1, old, true) {
		t.Fatalf("MarkErrorReported accepted stale generation")
	}
	if !r.RecordSnapshot(1, cur, snapshot.Snapshot{"A": 1}) {
		t.Fatalf("RecordSnapshot rejected current generation")
	}

	r.Reset(1)
	if r.RecordSnapshot(1, cur, snapshot.Snapshot{"A": 2}) {
		t.Fatalf("RecordSnapshot wrote to a reset subscriber")
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
}

func TestStateTransitions(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	gen := r.Configure(7, Credentials{Login: "u", Password: "p"})

	r.RecordFailure(7, gen, errors.New("portal down"))
	r.MarkErrorReported(7, gen, true)
	if got := r.State(7); got != Degraded {
		t.Fatalf("State = %v, want degraded", got)
	}

	r.RecordSnapshot(7, gen, snapshot.Snapshot{"A": 1})
	r.MarkErrorReported(7, gen, false)
	if got := r.State(7); got != Tracking {
		t.Fatalf("State = %v, want tracking", got)
	}

	st, ok := r.Status(7)
	if !ok || st.Checks != 2 || st.Failures != 1 || st.LastError != "" || !st.HasSnapshot {
		t.Fatalf("Status = %+v", st)
	}
}

func TestSnapshotIsCopied(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	gen := r.Configure(1, Credentials{Login: "u", Password: "p"})
	in := snapshot.Snapshot{"A": 1}
	r.RecordSnapshot(1, gen, in)
	in["A"] = 100

	out, _, _ := r.Snapshot(1)
	if out["A"] != 1 {
		t.Fatalf("registry shares snapshot with caller")
	}
	out["A"] = 50
	again, _, _ := r.Snapshot(1)
	if again["A"] != 1 {
		t.Fatalf("registry returned its internal map")
	}
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(id ID) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				gen := r.Configure(id%4, Credentials{Login: "u", Password: "p"})
				r.RecordSnapshot(id%4, gen, snapshot.Snapshot{"A": j})
				r.MarkErrorReported(id%4, gen, j%2 == 0)
				_ = r.State(id % 4)
				_, _ = r.Status(id % 4)
				if j%10 == 0 {
					r.Reset(id % 4)
				}
			}
		}(ID(i))
	}
	wg.Wait()
	if r.Len() > 4 {
		t.Fatalf("Len = %d, want <= 4", r.Len())
	}
}

func TestCredentialsStringRedacts(t *testing.T) {
	t.Parallel()

	c := Credentials{Login: "alice", Password: "hunter2"}
	if s := c.String(); s != "alice:***" {
		t.Fatalf("String() = %q", s)
	}
	if (Credentials{Login: " ", Password: "x"}).Valid() {
		t.Fatalf("blank login accepted")
	}
}
