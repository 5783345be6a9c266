package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bankruptcy-console/internal/backend"
)

func f(v float64) *float64 { return &v }

var baseline = backend.Metrics{Accuracy: f(0.9663), Precision: f(0.4643), Recall: f(0.2955), F1: f(0.3611)}

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(baseline, time.Hour, time.Minute)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMemoryStoreGetFresh(t *testing.T) {
	s := newTestStore(t)

	st, err := s.Get(context.Background(), "abc")
	if err != nil {
		t.Fatal(err)
	}
	if st.ID != "abc" || st.ModelID != "" {
		t.Errorf("unexpected state %+v", st)
	}
	if st.Status.Text != "Loaded default model metrics" || st.Status.Kind != KindSuccess {
		t.Errorf("Status = %+v", st.Status)
	}
	if *st.Current.Accuracy != 0.9663 {
		t.Errorf("Current.Accuracy = %v", *st.Current.Accuracy)
	}
	if s.Len() != 0 {
		t.Errorf("Get must not store anything, Len = %d", s.Len())
	}
}

func TestMemoryStoreUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Update(ctx, "abc", func(st *State) error {
		st.ApplyRetrain(backend.RetrainResult{
			ModelID: "m-1",
			Metrics: backend.Metrics{Accuracy: f(0.97)},
			Message: "Model retrained",
		})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	st, _ := s.Get(ctx, "abc")
	if st.ModelID != "m-1" || st.Candidate == nil || *st.Candidate.Accuracy != 0.97 {
		t.Errorf("retrain not stored: %+v", st)
	}
	if st.Status.Text != "Model retrained" {
		t.Errorf("Status = %q", st.Status.Text)
	}
}

func TestMemoryStoreUpdateErrorStoresNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := s.Update(ctx, "abc", func(st *State) error {
		st.ModelID = "should-not-stick"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("failed update on a new session stored state")
	}

	s.Update(ctx, "abc", func(st *State) error { st.UploadReady = true; return nil })
	s.Update(ctx, "abc", func(st *State) error {
		st.UploadReady = false
		return boom
	})
	st, _ := s.Get(ctx, "abc")
	if !st.UploadReady {
		t.Error("failed update overwrote stored state")
	}
}

func TestMemoryStoreFailedUpdateDropsExpiredSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	s.Update(ctx, "abc", func(st *State) error { st.ModelID = "m-1"; return nil })
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err := s.Update(ctx, "abc", func(st *State) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("failed update stored a reset session, Len = %d", s.Len())
	}
	if st, _ := s.Get(ctx, "abc"); st.ModelID != "" {
		t.Errorf("ModelID = %q, want a fresh session", st.ModelID)
	}
}

func TestMemoryStoreUpdateIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(ctx, "abc", func(st *State) error {
				n := 0
				if st.Candidate != nil && st.Candidate.Accuracy != nil {
					n = int(*st.Candidate.Accuracy)
				}
				st.Candidate = &backend.Metrics{Accuracy: f(float64(n + 1))}
				return nil
			})
		}()
	}
	wg.Wait()

	st, _ := s.Get(ctx, "abc")
	if got := int(*st.Candidate.Accuracy); got != workers {
		t.Errorf("counter = %d, want %d", got, workers)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	s.now = func() time.Time { return now }

	s.Update(ctx, "abc", func(st *State) error { st.ModelID = "m-1"; return nil })

	now = now.Add(2 * time.Hour)
	st, _ := s.Get(ctx, "abc")
	if st.ModelID != "" {
		t.Errorf("expired session still visible: %+v", st)
	}

	if n := s.Sweep(); n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after sweep", s.Len())
	}
}

func TestMemoryStoreReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Update(ctx, "abc", func(st *State) error { st.ModelID = "m-1"; return nil })
	if err := s.Reset(ctx, "abc"); err != nil {
		t.Fatal(err)
	}
	st, _ := s.Get(ctx, "abc")
	if st.ModelID != "" {
		t.Errorf("Reset kept model id %q", st.ModelID)
	}
}

func TestMemoryStoreSingleFlight(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Begin(ctx, "abc", backend.OpRetrain); err != nil {
		t.Fatal(err)
	}
	if err := s.Begin(ctx, "abc", backend.OpRetrain); !errors.Is(err, ErrBusy) {
		t.Errorf("second Begin = %v, want ErrBusy", err)
	}

	// Other ops and other sessions are independent.
	if err := s.Begin(ctx, "abc", backend.OpSaveModel); err != nil {
		t.Errorf("different op: %v", err)
	}
	if err := s.Begin(ctx, "xyz", backend.OpRetrain); err != nil {
		t.Errorf("different session: %v", err)
	}

	if ok, _ := s.InFlight(ctx, "abc", backend.OpRetrain); !ok {
		t.Error("InFlight = false while running")
	}
	s.End(ctx, "abc", backend.OpRetrain)
	if ok, _ := s.InFlight(ctx, "abc", backend.OpRetrain); ok {
		t.Error("InFlight = true after End")
	}
	if err := s.Begin(ctx, "abc", backend.OpRetrain); err != nil {
		t.Errorf("Begin after End: %v", err)
	}
}

func TestMemoryStoreAbandonedFlight(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	s.now = func() time.Time { return now }

	s.Begin(ctx, "abc", backend.OpRetrain)
	now = now.Add(2 * time.Minute)

	if ok, _ := s.InFlight(ctx, "abc", backend.OpRetrain); ok {
		t.Error("stale flag still reported in flight")
	}
	if err := s.Begin(ctx, "abc", backend.OpRetrain); err != nil {
		t.Errorf("Begin over stale flag: %v", err)
	}
}
