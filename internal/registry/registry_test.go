package registry

import (
	"sync"
	"testing"
)

func TestRegistry_Subscribe_FirstSubscriber(t *testing.T) {
	r := New()

	if first := r.Subscribe(1, "token-a", DomainMarket); !first {
		t.Error("first subscribe should report first = true")
	}
	if first := r.Subscribe(2, "token-a", DomainMarket); first {
		t.Error("second client on same topic should report first = false")
	}
	if first := r.Subscribe(1, "token-b", DomainMarket); !first {
		t.Error("same client on new topic should report first = true")
	}
}

func TestRegistry_Subscribe_SetSemantics(t *testing.T) {
	r := New()

	// Subscribing twice is idempotent, not ref-counted: one unsubscribe
	// fully removes membership.
	r.Subscribe(1, "token-a", DomainMarket)
	if first := r.Subscribe(1, "token-a", DomainMarket); first {
		t.Error("duplicate subscribe should report first = false")
	}
	if n := r.SubscriberCount("token-a", DomainMarket); n != 1 {
		t.Errorf("SubscriberCount = %d, want 1", n)
	}

	if last := r.Unsubscribe(1, "token-a", DomainMarket); !last {
		t.Error("single unsubscribe after duplicate subscribes should empty the topic")
	}
	if n := r.SubscriberCount("token-a", DomainMarket); n != 0 {
		t.Errorf("SubscriberCount after unsubscribe = %d, want 0", n)
	}
}

func TestRegistry_Unsubscribe_LastSubscriber(t *testing.T) {
	r := New()

	r.Subscribe(1, "token-a", DomainMarket)
	r.Subscribe(2, "token-a", DomainMarket)

	if last := r.Unsubscribe(1, "token-a", DomainMarket); last {
		t.Error("unsubscribe with another subscriber remaining should report last = false")
	}
	if last := r.Unsubscribe(2, "token-a", DomainMarket); !last {
		t.Error("removing the final subscriber should report last = true")
	}
	if topics := r.Topics(DomainMarket); len(topics) != 0 {
		t.Errorf("Topics = %v, want empty", topics)
	}
}

func TestRegistry_Unsubscribe_NonMember(t *testing.T) {
	r := New()

	if last := r.Unsubscribe(1, "token-a", DomainMarket); last {
		t.Error("unsubscribe of unknown topic should report last = false")
	}

	r.Subscribe(1, "token-a", DomainMarket)
	if last := r.Unsubscribe(2, "token-a", DomainMarket); last {
		t.Error("unsubscribe of non-member should report last = false")
	}
	if n := r.SubscriberCount("token-a", DomainMarket); n != 1 {
		t.Errorf("SubscriberCount = %d, want 1", n)
	}
}

func TestRegistry_DomainsIndependent(t *testing.T) {
	r := New()

	r.Subscribe(1, "42", DomainMarket)
	r.Subscribe(1, "42", DomainComment)

	if last := r.Unsubscribe(1, "42", DomainMarket); !last {
		t.Error("market unsubscribe should empty the market topic")
	}
	if n := r.SubscriberCount("42", DomainComment); n != 1 {
		t.Errorf("comment domain SubscriberCount = %d, want 1 after market unsubscribe", n)
	}
}

func TestRegistry_RemoveClient_Cascade(t *testing.T) {
	r := New()

	// Client 1 alone on token-a and event-1, shares token-b with client 2.
	r.Subscribe(1, "token-a", DomainMarket)
	r.Subscribe(1, "token-b", DomainMarket)
	r.Subscribe(2, "token-b", DomainMarket)
	r.Subscribe(1, "event-1", DomainComment)

	emptied := r.RemoveClient(1)

	if got := emptied[DomainMarket]; len(got) != 1 || got[0] != "token-a" {
		t.Errorf("emptied market topics = %v, want [token-a]", got)
	}
	if got := emptied[DomainComment]; len(got) != 1 || got[0] != "event-1" {
		t.Errorf("emptied comment topics = %v, want [event-1]", got)
	}

	// No residual membership for client 1 anywhere.
	if tops := r.TopicsOf(1, DomainMarket); len(tops) != 0 {
		t.Errorf("TopicsOf(1, market) = %v, want empty", tops)
	}
	if tops := r.TopicsOf(1, DomainComment); len(tops) != 0 {
		t.Errorf("TopicsOf(1, comment) = %v, want empty", tops)
	}

	// token-b survives with client 2.
	if subs := r.SubscribersOf("token-b", DomainMarket); len(subs) != 1 || subs[0] != 2 {
		t.Errorf("SubscribersOf(token-b) = %v, want [2]", subs)
	}
}

func TestRegistry_RemoveClient_Unknown(t *testing.T) {
	r := New()

	emptied := r.RemoveClient(99)
	if len(emptied) != 0 {
		t.Errorf("RemoveClient of unknown client emptied %v, want nothing", emptied)
	}
}

func TestRegistry_SubscribersOf_Snapshot(t *testing.T) {
	r := New()

	r.Subscribe(1, "token-a", DomainMarket)
	subs := r.SubscribersOf("token-a", DomainMarket)

	// Mutating the snapshot must not leak into the registry.
	subs[0] = 999
	if got := r.SubscribersOf("token-a", DomainMarket); len(got) != 1 || got[0] != 1 {
		t.Errorf("SubscribersOf = %v, want [1]", got)
	}
}

func TestRegistry_Counts(t *testing.T) {
	r := New()

	r.Subscribe(1, "token-a", DomainMarket)
	r.Subscribe(2, "token-a", DomainMarket)
	r.Subscribe(2, "event-1", DomainComment)

	clients, marketTopics, commentTopics := r.Counts()
	if clients != 2 {
		t.Errorf("clients = %d, want 2", clients)
	}
	if marketTopics != 1 {
		t.Errorf("marketTopics = %d, want 1", marketTopics)
	}
	if commentTopics != 1 {
		t.Errorf("commentTopics = %d, want 1", commentTopics)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Subscribe(id, "shared", DomainMarket)
				r.SubscribersOf("shared", DomainMarket)
				r.Unsubscribe(id, "shared", DomainMarket)
			}
			r.RemoveClient(id)
		}(int64(i))
	}
	wg.Wait()

	if topics := r.Topics(DomainMarket); len(topics) != 0 {
		t.Errorf("Topics after concurrent churn = %v, want empty", topics)
	}
	clients, _, _ := r.Counts()
	if clients != 0 {
		t.Errorf("clients after concurrent churn = %d, want 0", clients)
	}
}
