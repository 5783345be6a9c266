package supervisor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"bankruptcy-console/internal/storage"
)

func TestTracker_StartFinish(t *testing.T) {
	store := storage.NewMemoryStore(100)
	tracker := NewTracker(store, nil, nil, testLogger())

	id := tracker.Start("predict_bulk", "sess-1", "companies.csv", 2048)

	inFlight := tracker.InFlight()
	if len(inFlight) != 1 || inFlight[0].ID != id {
		t.Fatalf("InFlight = %+v", inFlight)
	}
	c, _ := store.GetByID(id)
	if c == nil || c.Status != storage.StatusInFlight || c.FileName != "companies.csv" {
		t.Fatalf("stored call = %+v", c)
	}

	tracker.Finish(id, Outcome{
		Status:        storage.StatusSuccess,
		HTTPStatus:    200,
		RecordCount:   10,
		HighRiskCount: 2,
	})

	if n := len(tracker.InFlight()); n != 0 {
		t.Errorf("expected 0 in flight, got %d", n)
	}
	c, _ = store.GetByID(id)
	if c.Status != storage.StatusSuccess || c.HTTPStatus != 200 {
		t.Errorf("stored call = %+v", c)
	}
	if c.RecordCount != 10 || c.HighRiskCount != 2 {
		t.Errorf("counts = %d/%d", c.RecordCount, c.HighRiskCount)
	}
	if c.TSEnd == nil {
		t.Error("TSEnd not set")
	}

	// A second Finish for the same id is ignored.
	tracker.Finish(id, Outcome{Status: storage.StatusError})
	c, _ = store.GetByID(id)
	if c.Status != storage.StatusSuccess {
		t.Errorf("double Finish overwrote status: %s", c.Status)
	}
}

func TestTracker_FinishWithError(t *testing.T) {
	store := storage.NewMemoryStore(100)
	tracker := NewTracker(store, nil, nil, testLogger())

	id := tracker.Start("retrain", "sess-1", "", 0)
	tracker.Finish(id, Outcome{
		Status:     storage.StatusError,
		Reason:     storage.ReasonAPIError,
		HTTPStatus: 500,
		Err:        errors.New("Retraining failed"),
	})

	c, _ := store.GetByID(id)
	if c.Error != "Retraining failed" || c.Reason != storage.ReasonAPIError {
		t.Errorf("stored call = %+v", c)
	}
}

func TestTracker_Reject(t *testing.T) {
	store := storage.NewMemoryStore(100)
	bus := NewEventBus(10)
	defer bus.Shutdown()
	sub := bus.Subscribe()

	tracker := NewTracker(store, NewMetrics(), bus, testLogger())
	tracker.Reject("save_model", "sess-1", storage.ReasonNoModel, errors.New("no model to save"))

	calls, _ := store.List(storage.ListOptions{})
	if len(calls) != 1 {
		t.Fatalf("got %d calls", len(calls))
	}
	if calls[0].Status != storage.StatusRejected || calls[0].Reason != storage.ReasonNoModel {
		t.Errorf("stored call = %+v", calls[0])
	}
	if n := len(tracker.InFlight()); n != 0 {
		t.Errorf("rejections must not be in flight, got %d", n)
	}

	select {
	case ev := <-sub:
		if ev.Type != EventCallRejected || ev.Op != "save_model" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("no event published")
	}
}

func TestTracker_NoStore(t *testing.T) {
	tracker := NewTracker(nil, nil, nil, testLogger())
	id := tracker.Start("predict_single", "", "", 0)
	tracker.Finish(id, Outcome{Status: storage.StatusSuccess, RecordCount: 1})
	tracker.Reject("predict_bulk", "", storage.ReasonNoFile, nil)
}

func TestTracker_Concurrent(t *testing.T) {
	store := storage.NewMemoryStore(1000)
	tracker := NewTracker(store, nil, nil, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := tracker.Start("predict_single", "sess", "", 0)
			tracker.Finish(id, Outcome{Status: storage.StatusSuccess, RecordCount: 1})
		}()
	}
	wg.Wait()

	if n := len(tracker.InFlight()); n != 0 {
		t.Errorf("in flight = %d, want 0", n)
	}
	o, _ := store.Overview(time.Hour)
	if o.TotalCalls != 50 || o.SuccessCount != 50 {
		t.Errorf("overview = %+v", o)
	}
}
