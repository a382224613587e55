package engine

import (
	"testing"

	"github.com/dbgcoord/dbgcoord/pkg/proctl"
)

func TestDeferredStartDrain(t *testing.T) {
	var d deferredStart
	if !d.empty() || len(d.drain()) != 0 {
		t.Fatalf("zero value not empty")
	}
	th := &ThreadHandle{ID: 1, Thread: proctl.Thread{ID: 10}}
	d.startThread = th
	d.startModule = &ModuleHandle{ID: 1}
	d.loadThread = th

	evs := d.drain()
	want := []EventKind{LoadComplete, ModuleLoad, ThreadStart}
	if len(evs) != len(want) {
		t.Fatalf("got %v", evs)
	}
	for i := range want {
		if evs[i].Kind != want[i] {
			t.Errorf("event %d: got %v, want %v", i, evs[i].Kind, want[i])
		}
	}
	if !th.announced {
		t.Errorf("drained start thread not marked announced")
	}
	if !d.empty() {
		t.Errorf("not empty after drain")
	}
}

func TestDeferredStartForgetThread(t *testing.T) {
	a := &ThreadHandle{ID: 1}
	b := &ThreadHandle{ID: 2}
	d := deferredStart{loadThread: a, startThread: b}
	d.forgetThread(b)
	if d.startThread != nil || d.loadThread != a {
		t.Errorf("got %+v", d)
	}

	// the load-complete survives the exit of its thread
	d = deferredStart{loadThread: a, startThread: a}
	d.forgetThread(a)
	if d.startThread != nil || d.loadThread != a {
		t.Errorf("got %+v", d)
	}
	evs := d.drain()
	if len(evs) != 1 || evs[0].Kind != LoadComplete || evs[0].Thread.ID != 1 {
		t.Errorf("got %v", evs)
	}
}
