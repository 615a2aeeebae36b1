package backend

import (
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/rhi/internal/fakegpu"
)

type closingAdapter struct {
	*fakegpu.Adapter
	closed bool
}

func (c *closingAdapter) Close() error {
	c.closed = true
	return nil
}

func register(t *testing.T, name string, f Factory) {
	t.Helper()
	Register(name, f)
	t.Cleanup(func() { Unregister(name) })
}

func okFactory() (Adapter, error) { return &closingAdapter{Adapter: fakegpu.New()}, nil }

var errBroken = errors.New("broken driver")

func failingFactory() (Adapter, error) { return nil, errBroken }

func TestRegistry(t *testing.T) {
	register(t, "test-b", okFactory)
	register(t, "test-a", okFactory)

	if !IsRegistered("test-a") {
		t.Error("IsRegistered(test-a) = false")
	}
	names := Available()
	if !slices.IsSorted(names) {
		t.Errorf("Available() = %v, want sorted", names)
	}
	if !slices.Contains(names, "test-a") || !slices.Contains(names, "test-b") {
		t.Errorf("Available() = %v, missing test backends", names)
	}

	a, err := Open("test-a")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if !a.(*closingAdapter).closed {
		t.Error("Close did not reach the adapter")
	}

	Unregister("test-a")
	if IsRegistered("test-a") {
		t.Error("IsRegistered after Unregister = true")
	}
}

func TestOpenUnknown(t *testing.T) {
	_, err := Open("does-not-exist")
	if !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Open(unknown) error = %v, want ErrBackendNotAvailable", err)
	}
}

func TestOpenFactoryError(t *testing.T) {
	register(t, "test-broken", failingFactory)

	_, err := Open("test-broken")
	if !errors.Is(err, errBroken) {
		t.Errorf("Open() error = %v, want the factory error", err)
	}
}

func TestDefaultPriority(t *testing.T) {
	var opened []string
	factory := func(name string, fail bool) Factory {
		return func() (Adapter, error) {
			opened = append(opened, name)
			if fail {
				return nil, errBroken
			}
			return &closingAdapter{Adapter: fakegpu.New()}, nil
		}
	}
	register(t, Native, factory(Native, true))
	register(t, Noop, factory(Noop, false))
	register(t, "aaa-extra", factory("aaa-extra", false))

	a, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	defer a.Close()

	want := []string{Native, Noop}
	if !slices.Equal(opened, want) {
		t.Errorf("opened %v, want %v", opened, want)
	}
}

func TestDefaultAllFail(t *testing.T) {
	if names := Available(); len(names) > 0 {
		t.Skipf("backends %v already registered", names)
	}
	register(t, "test-broken", failingFactory)

	_, err := Default()
	if !errors.Is(err, ErrBackendNotAvailable) || !errors.Is(err, errBroken) {
		t.Errorf("Default() error = %v, want both sentinels", err)
	}
}
