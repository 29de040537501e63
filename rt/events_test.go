package rt

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

// listenerFixture builds a runtime with a Listener type and a helper to
// allocate named listeners.
type listenerFixture struct {
	r       *Runtime
	td      *TypeDescriptor
	onEvent int
	mu      sync.Mutex
	calls   []string
}

func newListenerFixture(t *testing.T) *listenerFixture {
	t.Helper()

	f := &listenerFixture{r: newTestRuntime()}
	f.onEvent = f.r.Selectors.Intern("onEvent")

	f.td = NewType("Listener", nil)
	f.td.DeclareField(FieldDescriptor{Name: "name", Kind: FieldString})
	f.td.DeclareDynamic(f.onEvent, func(r *Runtime, self Value, args []Value) (Value, error) {
		v, err := r.FieldRead(self.AsHandle(), "name")
		if err != nil {
			return Nil(), err
		}
		f.mu.Lock()
		f.calls = append(f.calls, v.AsString())
		f.mu.Unlock()
		return Nil(), nil
	})
	if err := f.r.Types.Register(f.td); err != nil {
		t.Fatalf("register Listener: %v", err)
	}
	return f
}

func (f *listenerFixture) listener(t *testing.T, name string) Handle {
	t.Helper()
	h, err := f.r.Allocate(f.td)
	if err != nil {
		t.Fatalf("Allocate listener %s: %v", name, err)
	}
	if err := f.r.FieldWrite(h, "name", Str(name)); err != nil {
		t.Fatalf("set name %s: %v", name, err)
	}
	return h
}

func (f *listenerFixture) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *listenerFixture) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Ordering and basic delivery
// ---------------------------------------------------------------------------

func TestRaiseDeliversInInsertionOrder(t *testing.T) {
	f := newListenerFixture(t)
	defer f.r.Close()

	list := f.r.NewCallbackList()
	for _, name := range []string{"a", "b", "c"} {
		list.Subscribe(f.listener(t, name), f.onEvent)
	}

	if err := f.r.Raise(list, NullHandle, Int(1)); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	if got, want := f.recorded(), []string{"a", "b", "c"}; !equalStrings(got, want) {
		t.Errorf("delivery order = %v, want %v", got, want)
	}
}

func TestRaiseOnEmptyListIsNoOp(t *testing.T) {
	f := newListenerFixture(t)
	defer f.r.Close()

	list := f.r.NewCallbackList()
	if err := f.r.Raise(list, NullHandle, Nil()); err != nil {
		t.Errorf("Raise on empty list: got %v, want nil", err)
	}
}

func TestUnsubscribeRemovesFirstMatch(t *testing.T) {
	f := newListenerFixture(t)
	defer f.r.Close()

	list := f.r.NewCallbackList()
	a := f.listener(t, "a")
	list.Subscribe(a, f.onEvent)
	list.Subscribe(a, f.onEvent) // subscribed twice
	list.Subscribe(f.listener(t, "b"), f.onEvent)

	if !list.Unsubscribe(a, f.onEvent) {
		t.Fatal("Unsubscribe should find a match")
	}
	if err := f.r.Raise(list, NullHandle, Nil()); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	if got, want := f.recorded(), []string{"a", "b"}; !equalStrings(got, want) {
		t.Errorf("delivery after unsubscribe = %v, want %v", got, want)
	}
	if list.Unsubscribe(f.listener(t, "x"), f.onEvent) {
		t.Error("Unsubscribe of a non-subscriber should report false")
	}
}

// ---------------------------------------------------------------------------
// Snapshot isolation
// ---------------------------------------------------------------------------

func TestMidRaiseUnsubscribeStillDeliversToSnapshot(t *testing.T) {
	f := newListenerFixture(t)
	defer f.r.Close()

	list := f.r.NewCallbackList()
	var hB Handle

	// A's handler unsubscribes B while the raise is in flight.
	saboteur := NewType("Saboteur", nil)
	saboteur.DeclareDynamic(f.onEvent, func(r *Runtime, self Value, args []Value) (Value, error) {
		list.Unsubscribe(hB, f.onEvent)
		f.mu.Lock()
		f.calls = append(f.calls, "a")
		f.mu.Unlock()
		return Nil(), nil
	})

	hA, err := f.r.Allocate(saboteur)
	if err != nil {
		t.Fatalf("Allocate saboteur: %v", err)
	}
	hB = f.listener(t, "b")

	list.Subscribe(hA, f.onEvent)
	list.Subscribe(hB, f.onEvent)

	// B is in the snapshot, so it is still invoked for this raise.
	if err := f.r.Raise(list, NullHandle, Nil()); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	if got, want := f.recorded(), []string{"a", "b"}; !equalStrings(got, want) {
		t.Errorf("first raise delivered %v, want %v", got, want)
	}

	// A subsequent raise no longer sees B.
	f.reset()
	if err := f.r.Raise(list, NullHandle, Nil()); err != nil {
		t.Fatalf("second Raise: %v", err)
	}
	if got, want := f.recorded(), []string{"a"}; !equalStrings(got, want) {
		t.Errorf("second raise delivered %v, want %v", got, want)
	}
}

func TestConcurrentSubscribeDuringRaise(t *testing.T) {
	f := newListenerFixture(t)
	defer f.r.Close()

	list := f.r.NewCallbackList()
	const handlers = 16
	for i := 0; i < handlers; i++ {
		list.Subscribe(f.listener(t, fmt.Sprintf("h%02d", i)), f.onEvent)
	}

	// Mutate the list from other goroutines while raising. The raise must
	// deliver to exactly the handlers present at call time, in order.
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				h, err := f.r.Allocate(f.td)
				if err != nil {
					continue // heap pressure; keep churning
				}
				if err := f.r.FieldWrite(h, "name", Str("extra")); err != nil {
					continue
				}
				list.Subscribe(h, f.onEvent)
				list.Unsubscribe(h, f.onEvent)
			}
		}()
	}

	if err := f.r.Raise(list, NullHandle, Nil()); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	close(stop)
	wg.Wait()

	got := f.recorded()
	seen := 0
	last := ""
	for _, name := range got {
		if name == "extra" {
			continue
		}
		if last != "" && name <= last {
			t.Errorf("stable handlers delivered out of order: %v", got)
			break
		}
		last = name
		seen++
	}
	if seen != handlers {
		t.Errorf("delivered to %d stable handlers, want %d", seen, handlers)
	}
}

// ---------------------------------------------------------------------------
// Aggregate failure
// ---------------------------------------------------------------------------

func TestRaiseAggregatesHandlerFailures(t *testing.T) {
	f := newListenerFixture(t)
	defer f.r.Close()

	failing := NewType("Failing", nil)
	failing.DeclareDynamic(f.onEvent, func(r *Runtime, self Value, args []Value) (Value, error) {
		return Nil(), errors.New("boom")
	})

	list := f.r.NewCallbackList()
	list.Subscribe(f.listener(t, "a"), f.onEvent)
	hf, err := f.r.Allocate(failing)
	if err != nil {
		t.Fatalf("Allocate failing: %v", err)
	}
	list.Subscribe(hf, f.onEvent)
	list.Subscribe(f.listener(t, "b"), f.onEvent)

	err = f.r.Raise(list, NullHandle, Nil())

	// The failure is reported, but delivery continued past it.
	var raiseErr *RaiseError
	if !errors.As(err, &raiseErr) {
		t.Fatalf("Raise error = %v, want *RaiseError", err)
	}
	if len(raiseErr.Handlers) != 1 {
		t.Fatalf("got %d handler errors, want 1", len(raiseErr.Handlers))
	}
	if raiseErr.Handlers[0].Index != 1 {
		t.Errorf("failing handler index = %d, want 1", raiseErr.Handlers[0].Index)
	}
	if got, want := f.recorded(), []string{"a", "b"}; !equalStrings(got, want) {
		t.Errorf("delivery around failure = %v, want %v", got, want)
	}
}

func TestRaiseReportsInvalidTargets(t *testing.T) {
	f := newListenerFixture(t)
	defer f.r.Close()

	// Allocate a listener and let the collector reclaim it before it is
	// subscribed; the stale handle surfaces in the aggregate.
	garbage := f.listener(t, "gone")
	f.r.Collect(MaxGeneration)

	list := f.r.NewCallbackList()
	list.Subscribe(f.listener(t, "a"), f.onEvent)
	list.Subscribe(garbage, f.onEvent)

	err := f.r.Raise(list, NullHandle, Nil())
	if !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Raise with reclaimed target: got %v, want ErrInvalidHandle in aggregate", err)
	}
	if got, want := f.recorded(), []string{"a"}; !equalStrings(got, want) {
		t.Errorf("delivery around invalid target = %v, want %v", got, want)
	}
}
