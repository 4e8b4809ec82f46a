package notify

import (
	"context"
	"fmt"
	"sync"
)

// Registration is one call recorded by FakeProvider.
type Registration struct {
	Handle  Handle
	Trigger Trigger
	Payload Payload
}

// FakeProvider is an in-memory Provider for tests. FailRegister and
// FailCancel let a test inject failures per call.
type FakeProvider struct {
	mu           sync.Mutex
	seq          int
	Active       map[Handle]Registration
	Registered   []Registration
	Cancelled    []Handle
	FailRegister func(Trigger, Payload) error
	FailCancel   func(Handle) error
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{Active: map[Handle]Registration{}}
}

func (f *FakeProvider) Register(ctx context.Context, trigger Trigger, payload Payload) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailRegister != nil {
		if err := f.FailRegister(trigger, payload); err != nil {
			return "", err
		}
	}
	f.seq++
	h := Handle(fmt.Sprintf("fake:%d", f.seq))
	reg := Registration{Handle: h, Trigger: trigger, Payload: payload}
	f.Active[h] = reg
	f.Registered = append(f.Registered, reg)
	return h, nil
}

func (f *FakeProvider) Cancel(ctx context.Context, h Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Cancelled = append(f.Cancelled, h)
	if f.FailCancel != nil {
		if err := f.FailCancel(h); err != nil {
			return err
		}
	}
	delete(f.Active, h)
	return nil
}

// ActiveCount returns the number of registrations not yet cancelled.
func (f *FakeProvider) ActiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Active)
}

// OneOffs returns the recorded one-off registrations.
func (f *FakeProvider) OneOffs() []Registration {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Registration
	for _, r := range f.Registered {
		if r.Trigger.Kind == TriggerAfter {
			out = append(out, r)
		}
	}
	return out
}
