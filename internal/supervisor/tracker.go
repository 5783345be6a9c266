package supervisor

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bankruptcy-console/internal/storage"
)

// CallInfo describes a call that has started but not finished.
type CallInfo struct {
	ID           string    `json:"id"`
	Op           string    `json:"op"`
	SessionID    string    `json:"session_id,omitempty"`
	StartTime    time.Time `json:"start_time"`
	RequestBytes int64     `json:"request_bytes,omitempty"`
	FileName     string    `json:"file_name,omitempty"`
}

// Outcome is how a call ended.
type Outcome struct {
	Status        storage.Status
	Reason        storage.Reason
	HTTPStatus    int
	RecordCount   int
	HighRiskCount int
	ModelID       string
	Err           error
}

// Tracker follows each call from start to finish and fans the result out
// to the activity log, the metrics and the event bus. Any of the three may
// be nil.
type Tracker struct {
	mu       sync.Mutex
	inFlight map[string]*CallInfo
	store    storage.Store
	metrics  *Metrics
	events   *EventBus
	logger   *slog.Logger
	now      func() time.Time
}

// NewTracker creates a tracker.
func NewTracker(store storage.Store, metrics *Metrics, events *EventBus, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		inFlight: make(map[string]*CallInfo),
		store:    store,
		metrics:  metrics,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// Start registers a call as in flight and returns its id.
func (t *Tracker) Start(op, sessionID, fileName string, requestBytes int64) string {
	info := &CallInfo{
		ID:           uuid.NewString(),
		Op:           op,
		SessionID:    sessionID,
		StartTime:    t.now(),
		RequestBytes: requestBytes,
		FileName:     fileName,
	}

	t.mu.Lock()
	t.inFlight[info.ID] = info
	t.mu.Unlock()

	t.metrics.InFlightInc()
	t.metrics.RecordUpload(op, requestBytes)

	if t.store != nil {
		err := t.store.Insert(&storage.Call{
			ID:           info.ID,
			TSStart:      info.StartTime.UnixMilli(),
			Op:           op,
			Status:       storage.StatusInFlight,
			SessionID:    sessionID,
			RequestBytes: requestBytes,
			FileName:     fileName,
		})
		if err != nil {
			t.logger.Warn("activity log insert failed", "op", op, "err", err)
		}
	}

	t.events.Publish(Event{
		Type:      EventCallStart,
		CallID:    info.ID,
		Op:        op,
		Timestamp: info.StartTime,
	})
	return info.ID
}

// Finish completes a call started with Start. Unknown ids are ignored.
func (t *Tracker) Finish(id string, out Outcome) {
	t.mu.Lock()
	info, ok := t.inFlight[id]
	if ok {
		delete(t.inFlight, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	end := t.now()
	duration := end.Sub(info.StartTime)
	errText := ""
	if out.Err != nil {
		errText = out.Err.Error()
	}

	t.metrics.InFlightDec()
	t.metrics.RecordRequest(info.Op, string(out.Status), duration)
	if out.Status == storage.StatusSuccess && isPredictionOp(info.Op) {
		t.metrics.RecordPredictions(out.RecordCount, out.HighRiskCount)
	}

	if t.store != nil {
		endMs := end.UnixMilli()
		durMs := int(duration.Milliseconds())
		upd := storage.CallUpdate{
			TSEnd:         &endMs,
			Status:        &out.Status,
			Reason:        &out.Reason,
			HTTPStatus:    &out.HTTPStatus,
			DurationMs:    &durMs,
			RecordCount:   &out.RecordCount,
			HighRiskCount: &out.HighRiskCount,
			Error:         &errText,
		}
		if out.ModelID != "" {
			upd.ModelID = &out.ModelID
		}
		if err := t.store.Update(id, upd); err != nil {
			t.logger.Warn("activity log update failed", "op", info.Op, "err", err)
		}
	}

	t.events.Publish(Event{
		Type:          EventCallDone,
		CallID:        id,
		Op:            info.Op,
		Timestamp:     end,
		Status:        out.Status,
		Reason:        out.Reason,
		HTTPStatus:    out.HTTPStatus,
		DurationMs:    duration.Milliseconds(),
		RecordCount:   out.RecordCount,
		HighRiskCount: out.HighRiskCount,
		Error:         errText,
	})
}

// Reject records an action that was refused before any request was sent.
func (t *Tracker) Reject(op, sessionID string, reason storage.Reason, err error) {
	now := t.now()
	id := uuid.NewString()
	errText := ""
	if err != nil {
		errText = err.Error()
	}

	t.metrics.RecordRejected(op, string(reason))

	if t.store != nil {
		nowMs := now.UnixMilli()
		err := t.store.Insert(&storage.Call{
			ID:        id,
			TSStart:   nowMs,
			TSEnd:     &nowMs,
			Op:        op,
			Status:    storage.StatusRejected,
			Reason:    reason,
			SessionID: sessionID,
			Error:     errText,
		})
		if err != nil {
			t.logger.Warn("activity log insert failed", "op", op, "err", err)
		}
	}

	t.events.Publish(Event{
		Type:      EventCallRejected,
		CallID:    id,
		Op:        op,
		Timestamp: now,
		Status:    storage.StatusRejected,
		Reason:    reason,
		Error:     errText,
	})
}

// InFlight returns the calls currently waiting on the API, oldest first.
func (t *Tracker) InFlight() []CallInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]CallInfo, 0, len(t.inFlight))
	for _, info := range t.inFlight {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

func isPredictionOp(op string) bool {
	return op == "predict_single" || op == "predict_bulk"
}
