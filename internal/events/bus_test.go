package events

import (
	"sync"
	"testing"
)

func TestBusBroadcastReachesAllSubscribers(t *testing.T) {
	b := NewBus()

	var mu sync.Mutex
	got := map[string][]string{}
	for _, id := range []string{"a", "b"} {
		id := id
		b.Subscribe(id, func(ev Event) {
			mu.Lock()
			got[id] = append(got[id], ev.Name)
			mu.Unlock()
		})
	}

	b.Broadcast(Event{Name: TicketUpdated})
	b.Broadcast(Event{Name: MessageCreated})

	for _, id := range []string{"a", "b"} {
		if len(got[id]) != 2 {
			t.Errorf("subscriber %s got %v", id, got[id])
		}
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus()

	n := 0
	b.Subscribe("x", func(Event) { n++ })
	b.Broadcast(Event{Name: SessionUpdated})
	b.Unsubscribe("x")
	b.Broadcast(Event{Name: SessionUpdated})

	if n != 1 {
		t.Errorf("deliveries = %d, want 1", n)
	}
}

func TestBusConcurrentSubscribeBroadcast(t *testing.T) {
	b := NewBus()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			b.Subscribe(string(rune('a'+i)), func(Event) {})
		}(i)
		go func() {
			defer wg.Done()
			b.Broadcast(Event{Name: CampaignProgress})
		}()
	}
	wg.Wait()
}
