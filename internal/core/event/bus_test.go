package event

import "testing"

func TestBusDeliversAfterSwap(t *testing.T) {
	b := NewBus()
	var got []string
	Subscribe(b, func(ev ClientSpawned) { got = append(got, ev.Name) })

	Emit(b, ClientSpawned{Name: "a"})
	b.DispatchAll()
	if len(got) != 0 {
		t.Fatal("delivered before swap")
	}
	if b.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", b.Pending())
	}

	b.SwapBuffers()
	b.DispatchAll()
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("got %v", got)
	}

	b.SwapBuffers()
	b.DispatchAll()
	if len(got) != 1 {
		t.Fatal("event delivered twice")
	}
}

func TestBusEmitDuringDispatch(t *testing.T) {
	b := NewBus()
	drops := 0
	Subscribe(b, func(ev ClientSpawned) { Emit(b, ClientDropped{Name: ev.Name}) })
	Subscribe(b, func(ClientDropped) { drops++ })

	Emit(b, ClientSpawned{Name: "a"})
	b.SwapBuffers()
	b.DispatchAll()
	if drops != 0 || b.Pending() != 1 {
		t.Fatalf("drops = %d pending = %d", drops, b.Pending())
	}
	b.SwapBuffers()
	b.DispatchAll()
	if drops != 1 {
		t.Fatalf("drops = %d, want 1", drops)
	}
}
