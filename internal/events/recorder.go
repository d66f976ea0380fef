package events

import "sync"

const defaultRecorderSize = 50

// Recorder keeps the most recent refresh events for the status surface.
type Recorder struct {
	mu    sync.Mutex
	size  int
	items []Refresh
}

func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = defaultRecorderSize
	}
	return &Recorder{size: size}
}

func (r *Recorder) Record(evt Refresh) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, evt)
	if len(r.items) > r.size {
		r.items = r.items[len(r.items)-r.size:]
	}
}

// Recent returns recorded events newest first.
func (r *Recorder) Recent() []Refresh {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Refresh, len(r.items))
	for i, evt := range r.items {
		out[len(r.items)-1-i] = evt
	}
	return out
}
