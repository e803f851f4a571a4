package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type stateChanged struct {
	CarID string
	Lock  bool
}

func TestTypedBusPublishSubscribe(t *testing.T) {
	bus := NewTyped[stateChanged]()
	ch := bus.Subscribe()
	bus.Publish(stateChanged{CarID: "car-1", Lock: true})
	v := <-ch
	if v.CarID != "car-1" || !v.Lock {
		t.Fatalf("unexpected event %+v", v)
	}
	bus.Unsubscribe(ch)
	assert.Equal(t, 0, bus.Subscribers())
}

func TestTypedBusDropsWhenFull(t *testing.T) {
	bus := NewTypedWithBuffer[int](2)
	ch := bus.Subscribe()
	for i := 0; i < 5; i++ {
		bus.Publish(i)
	}
	assert.Equal(t, uint64(3), bus.Dropped())
	assert.Equal(t, 0, <-ch)
	assert.Equal(t, 1, <-ch)
}

func TestTypedBusClose(t *testing.T) {
	bus := NewTyped[int]()
	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	bus.Close()
	if _, ok := <-ch1; ok {
		t.Fatalf("expected ch1 closed")
	}
	if _, ok := <-ch2; ok {
		t.Fatalf("expected ch2 closed")
	}
	bus.Publish(1)
	late := bus.Subscribe()
	if _, ok := <-late; ok {
		t.Fatalf("expected subscription after close to be closed")
	}
}

func TestTypedBusUnsubscribeAfterClose(t *testing.T) {
	bus := NewTyped[float64]()
	ch := bus.Subscribe()
	bus.Close()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic on Unsubscribe after Close: %v", r)
		}
	}()
	bus.Unsubscribe(ch)
}
