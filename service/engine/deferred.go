package engine

// deferredStart buffers the start-up notifications that arrive before the
// front end acknowledged program creation. Only the latest of each is
// kept.
type deferredStart struct {
	loadThread  *ThreadHandle
	startModule *ModuleHandle
	startThread *ThreadHandle
}

func (d deferredStart) empty() bool {
	return d.loadThread == nil && d.startModule == nil && d.startThread == nil
}

// forgetThread drops a buffered thread-start for th. A buffered
// load-complete is kept: drain copies the handle, so it outlives the thread.
func (d *deferredStart) forgetThread(th *ThreadHandle) {
	if d.startThread == th {
		d.startThread = nil
	}
}

// drain empties the buffer and returns the events it held, in delivery
// order: load-complete, module-load, thread-start.
func (d *deferredStart) drain() []Event {
	var evs []Event
	if d.loadThread != nil {
		evs = append(evs, Event{Kind: LoadComplete, Thread: *d.loadThread})
	}
	if d.startModule != nil {
		evs = append(evs, Event{Kind: ModuleLoad, Module: *d.startModule})
	}
	if d.startThread != nil {
		d.startThread.announced = true
		evs = append(evs, Event{Kind: ThreadStart, Thread: *d.startThread})
	}
	*d = deferredStart{}
	return evs
}
