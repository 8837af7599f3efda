package unit

import (
	"context"
	"sync"
)

// Fake is an in-memory Manager for tests. Units default to inactive.
type Fake struct {
	mu       sync.Mutex
	active   map[string]bool
	queryErr map[string]error
	calls    map[string]map[string]int

	// OnRestart, when set, decides the outcome of a restart. Returning nil without
	// changing state leaves the unit as it was.
	OnRestart func(f *Fake, unit string) error
}

func NewFake() *Fake {
	return &Fake{
		active:   make(map[string]bool),
		queryErr: make(map[string]error),
		calls:    make(map[string]map[string]int),
	}
}

// SetActive sets the reported state of unit.
func (f *Fake) SetActive(unit string, active bool) {
	f.mu.Lock()
	f.active[unit] = active
	f.mu.Unlock()
}

// FailQuery makes IsActive return err for unit until cleared with nil.
func (f *Fake) FailQuery(unit string, err error) {
	f.mu.Lock()
	f.queryErr[unit] = err
	f.mu.Unlock()
}

// Calls returns how many times verb ("is-active", "restart", "start", "stop") was
// issued for unit.
func (f *Fake) Calls(verb, unit string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[verb][unit]
}

// TotalCalls counts verb across all units.
func (f *Fake) TotalCalls(verb string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls[verb] {
		n += c
	}
	return n
}

func (f *Fake) record(verb, unit string) {
	m := f.calls[verb]
	if m == nil {
		m = make(map[string]int)
		f.calls[verb] = m
	}
	m[unit]++
}

func (f *Fake) IsActive(_ context.Context, unit string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("is-active", unit)
	if err := f.queryErr[unit]; err != nil {
		return false, err
	}
	return f.active[unit], nil
}

func (f *Fake) Restart(_ context.Context, unit string) error {
	f.mu.Lock()
	f.record("restart", unit)
	hook := f.OnRestart
	f.mu.Unlock()
	if hook != nil {
		return hook(f, unit)
	}
	f.SetActive(unit, true)
	return nil
}

func (f *Fake) Start(_ context.Context, unit string) error {
	f.mu.Lock()
	f.record("start", unit)
	f.active[unit] = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) Stop(_ context.Context, unit string) error {
	f.mu.Lock()
	f.record("stop", unit)
	f.active[unit] = false
	f.mu.Unlock()
	return nil
}

func (f *Fake) Describe() string { return "fake" }
