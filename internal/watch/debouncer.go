package watch

import (
	"sort"
	"sync"
	"time"
)

// Debouncer collects file changes and triggers the callback once no new
// change has arrived for the configured duration.
type Debouncer struct {
	duration time.Duration
	timer    *time.Timer
	files    map[string]struct{}
	mutex    sync.Mutex
	callback func([]string)
	stopped  bool
}

// NewDebouncer creates a new debouncer instance
func NewDebouncer(duration time.Duration, callback func([]string)) *Debouncer {
	return &Debouncer{
		duration: duration,
		files:    make(map[string]struct{}),
		callback: callback,
	}
}

// Add adds a file to the pending batch and restarts the timer
func (d *Debouncer) Add(file string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.stopped {
		return
	}
	d.files[file] = struct{}{}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, d.flush)
}

// flush triggers the callback with accumulated files, sorted
func (d *Debouncer) flush() {
	d.mutex.Lock()
	if d.stopped || len(d.files) == 0 {
		d.mutex.Unlock()
		return
	}

	files := make([]string, 0, len(d.files))
	for file := range d.files {
		files = append(files, file)
	}
	d.files = make(map[string]struct{})
	callback := d.callback
	d.mutex.Unlock()

	sort.Strings(files)
	if callback != nil {
		callback(files)
	}
}

// Stop discards any pending batch
func (d *Debouncer) Stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.stopped = true
	d.files = make(map[string]struct{})
}
