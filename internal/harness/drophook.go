package harness

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/streamcert/internal/stream"
)

// DropRecorder owns the drop hooks of a single probe. Hooks are per probe
// rather than process-wide, so probes and scenarios may run concurrently.
//
// Every injection announces the firing it expects; Check compares the
// announced firings with the ones observed.
type DropRecorder struct {
	droppedItem  any
	droppedError error
	hooks        *stream.Hooks

	mu            sync.Mutex
	nextFired     int
	errorFired    int
	nextExpected  int
	errorExpected int
	mismatches    []string
}

// NewDropRecorder creates a recorder expecting droppedItem and droppedError
// as the payloads of the dropped signals.
func NewDropRecorder(droppedItem any, droppedError error) *DropRecorder {
	d := &DropRecorder{droppedItem: droppedItem, droppedError: droppedError}
	d.hooks = &stream.Hooks{
		OnNextDropped:  d.onNextDropped,
		OnErrorDropped: d.onErrorDropped,
	}
	return d
}

// Hooks returns the hooks to attach to the probe's consumer.
func (d *DropRecorder) Hooks() *stream.Hooks { return d.hooks }

func (d *DropRecorder) onNextDropped(v any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextFired++
	if !cmp.Equal(v, d.droppedItem, exportAll) {
		d.mismatches = append(d.mismatches, fmt.Sprintf("next dropped %v, want %v", v, d.droppedItem))
	}
}

func (d *DropRecorder) onErrorDropped(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errorFired++
	if !errors.Is(err, d.droppedError) && (err == nil || err.Error() != d.droppedError.Error()) {
		d.mismatches = append(d.mismatches, fmt.Sprintf("error dropped %v, want %v", err, d.droppedError))
	}
}

func (d *DropRecorder) expectNext() {
	d.mu.Lock()
	d.nextExpected++
	d.mu.Unlock()
}

func (d *DropRecorder) expectError() {
	d.mu.Lock()
	d.errorExpected++
	d.mu.Unlock()
}

// Fired returns how many next and error drops were observed.
func (d *DropRecorder) Fired() (next, err int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nextFired, d.errorFired
}

// Check reports a DROP_HOOK error unless every injected signal fired its hook
// exactly once with the expected payload and no other drop happened.
func (d *DropRecorder) Check() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	if d.nextFired != d.nextExpected {
		errs = append(errs, fmt.Errorf("next dropped hook fired %d times, want %d", d.nextFired, d.nextExpected))
	}
	if d.errorFired != d.errorExpected {
		errs = append(errs, fmt.Errorf("error dropped hook fired %d times, want %d", d.errorFired, d.errorExpected))
	}
	for _, m := range d.mismatches {
		errs = append(errs, errors.New(m))
	}
	if len(errs) == 0 {
		return nil
	}
	return &CheckError{Code: ErrCodeDropHook, Message: "drop hooks", Err: errors.Join(errs...)}
}

var exportAll = cmp.Exporter(func(reflect.Type) bool { return true })

// DropFlags selects which drop hooks a scenario expects to fire.
type DropFlags struct {
	Next  bool
	Error bool
}

func dropFlagsOf[I, O any](s Scenario[I, O]) DropFlags {
	return DropFlags{Next: s.dropNext, Error: s.dropError}
}

// Injection re-signals a consumer that already received a terminal signal.
// Complete and TryNext are optional: without Complete no error is injected,
// without TryNext only Next is used for the item.
type Injection[I any] struct {
	Next     func(v I)
	TryNext  func(v I)
	Complete func()
	Error    func(err error)
}

// InjectAfterTerminal sends a completion plus the dropped error and then the
// dropped item through inj. Signals are injected whatever the flags; a hook
// firing is announced only for the enabled ones, so a disabled hook must stay
// silent.
func InjectAfterTerminal[I any](d *DropRecorder, inj Injection[I], flags DropFlags, item I) {
	if inj.Complete != nil && inj.Error != nil {
		inj.Complete()
		if flags.Error {
			d.expectError()
		}
		inj.Error(d.droppedError)
	}
	if inj.Next != nil {
		if flags.Next {
			d.expectNext()
		}
		inj.Next(item)
		if inj.TryNext != nil {
			if flags.Next {
				d.expectNext()
			}
			inj.TryNext(item)
		}
	}
}
