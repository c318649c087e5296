package bus

import (
	"testing"
)

func TestEmitDeliversInSubscriptionOrder(t *testing.T) {
	b := New()
	var order []int
	b.Subscribe(PeerJoin, func(any) { order = append(order, 1) })
	b.Subscribe(PeerJoin, func(any) { order = append(order, 2) })
	b.Subscribe(PeerJoin, func(any) { order = append(order, 3) })

	b.Emit(PeerJoin, "p1")

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("unexpected delivery order: %v", order)
	}
}

func TestUnsubscribeRemovesOnlyThatHandler(t *testing.T) {
	b := New()
	var calledA, calledB bool
	unsubA := b.Subscribe(PeerLeave, func(any) { calledA = true })
	b.Subscribe(PeerLeave, func(any) { calledB = true })

	unsubA()
	b.Emit(PeerLeave, nil)

	if calledA {
		t.Fatal("unsubscribed handler A was still called")
	}
	if !calledB {
		t.Fatal("handler B should still be subscribed")
	}
}

func TestPanickingListenerDoesNotInterruptSiblings(t *testing.T) {
	b := New()
	var secondCalled bool
	b.Subscribe(HostChange, func(any) { panic("boom") })
	b.Subscribe(HostChange, func(any) { secondCalled = true })

	b.Emit(HostChange, "host-2")

	if !secondCalled {
		t.Fatal("sibling listener did not run after a panicking listener")
	}
}

func TestClearDropsAllSubscribers(t *testing.T) {
	b := New()
	var called bool
	b.Subscribe(Ping, func(any) { called = true })
	b.Clear()
	b.Emit(Ping, nil)

	if called {
		t.Fatal("handler fired after Clear")
	}
}

func TestOnCastsPayloadAndDropsWrongType(t *testing.T) {
	b := New()
	var got string
	On(b, PlayerMove, func(v string) { got = v })

	b.Emit(PlayerMove, 42) // wrong type, should be silently ignored
	b.Emit(PlayerMove, "p7")

	if got != "p7" {
		t.Fatalf("expected typed payload p7, got %q", got)
	}
}

func TestSubscribeDuringEmitDoesNotRace(t *testing.T) {
	b := New()
	var count int
	var unsub Unsubscribe
	unsub = b.Subscribe(NetMessage, func(any) {
		count++
		unsub()
		b.Subscribe(NetMessage, func(any) { count++ })
	})

	b.Emit(NetMessage, nil)
	b.Emit(NetMessage, nil)

	if count != 2 {
		t.Fatalf("expected 2 invocations across two emits, got %d", count)
	}
}
