package session

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestNewStore(t *testing.T) {
	s := NewStore()
	if s == nil {
		t.Fatal("NewStore() returned nil")
	}
	if got := len(s.GetAll()); got != 0 {
		t.Errorf("new store has %d sessions, want 0", got)
	}
	if got := s.StreamingCount(); got != 0 {
		t.Errorf("new store StreamingCount() = %d, want 0", got)
	}
}

func TestGetMissing(t *testing.T) {
	s := NewStore()
	st, ok := s.Get("nonexistent")
	if ok {
		t.Error("Get for missing key returned ok=true")
	}
	if st != nil {
		t.Error("Get for missing key returned non-nil state")
	}
}

func TestUpdateAndGet(t *testing.T) {
	s := NewStore()
	s.Update(&SessionState{ID: "a", RemoteAddr: "10.0.0.1:5000", State: Streaming})

	st, ok := s.Get("a")
	if !ok {
		t.Fatal("Get returned ok=false after Update")
	}
	if st.ID != "a" || st.RemoteAddr != "10.0.0.1:5000" || st.State != Streaming {
		t.Errorf("Get returned unexpected state: %+v", st)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Update(&SessionState{ID: "a", RemoteAddr: "original"})

	got, _ := s.Get("a")
	got.RemoteAddr = "mutated"

	got2, _ := s.Get("a")
	if got2.RemoteAddr != "original" {
		t.Error("Get did not return a copy; mutation leaked into store")
	}
}

func TestUpdateStoresCopy(t *testing.T) {
	s := NewStore()
	state := &SessionState{ID: "a", RemoteAddr: "original"}
	s.Update(state)

	state.RemoteAddr = "mutated"

	got, _ := s.Get("a")
	if got.RemoteAddr != "original" {
		t.Error("Update did not copy input; external mutation leaked into store")
	}
}

func TestGetAllOrderedByConnectTime(t *testing.T) {
	s := NewStore()
	base := time.Now()
	s.Update(&SessionState{ID: "late", ConnectedAt: base.Add(2 * time.Second)})
	s.Update(&SessionState{ID: "early", ConnectedAt: base})
	s.Update(&SessionState{ID: "mid", ConnectedAt: base.Add(time.Second)})

	all := s.GetAll()
	want := []string{"early", "mid", "late"}
	if len(all) != len(want) {
		t.Fatalf("GetAll() returned %d items, want %d", len(all), len(want))
	}
	for i, id := range want {
		if all[i].ID != id {
			t.Errorf("GetAll()[%d] = %s, want %s", i, all[i].ID, id)
		}
	}
}

func TestGetAllReturnsCopyOfLastMessageAt(t *testing.T) {
	s := NewStore()
	now := time.Now()
	s.Update(&SessionState{ID: "a", LastMessageAt: &now})

	all := s.GetAll()
	mutated := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	all[0].LastMessageAt = &mutated

	got, _ := s.Get("a")
	if got.LastMessageAt.Equal(mutated) {
		t.Error("GetAll did not deep-copy LastMessageAt; pointer mutation leaked into store")
	}
}

func TestMutate(t *testing.T) {
	s := NewStore()
	s.Update(&SessionState{ID: "a"})

	ok := s.Mutate("a", func(st *SessionState) {
		st.State = Streaming
		st.RepliesStarted++
	})
	if !ok {
		t.Fatal("Mutate on existing id returned false")
	}

	got, _ := s.Get("a")
	if got.State != Streaming || got.RepliesStarted != 1 {
		t.Errorf("Mutate not applied: %+v", got)
	}

	if s.Mutate("missing", func(*SessionState) { t.Error("fn called for missing id") }) {
		t.Error("Mutate on missing id returned true")
	}
}

func TestRemove(t *testing.T) {
	s := NewStore()
	s.Update(&SessionState{ID: "a"})
	s.Remove("a")

	if _, ok := s.Get("a"); ok {
		t.Error("session still present after Remove")
	}
	s.Remove("a") // removing twice is a no-op
	if s.Count() != 0 {
		t.Errorf("Count() = %d, want 0", s.Count())
	}
}

func TestStreamingCount(t *testing.T) {
	s := NewStore()
	s.Update(&SessionState{ID: "a", State: Streaming})
	s.Update(&SessionState{ID: "b", State: Idle})
	s.Update(&SessionState{ID: "c", State: Streaming})
	s.Update(&SessionState{ID: "d", State: Terminated})

	if got := s.StreamingCount(); got != 2 {
		t.Errorf("StreamingCount() = %d, want 2", got)
	}
	if got := s.Count(); got != 4 {
		t.Errorf("Count() = %d, want 4", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			s.Update(&SessionState{ID: id})
			s.Mutate(id, func(st *SessionState) { st.MessageCount++ })
			s.GetAll()
			s.StreamingCount()
		}(i)
	}
	wg.Wait()

	if got := s.Count(); got != 20 {
		t.Errorf("Count() = %d, want 20", got)
	}
}
