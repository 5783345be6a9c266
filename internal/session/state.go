// Package session keeps the per-browser console state: the model produced
// by the last retrain, the metrics on display and the status lines.
//
// State is only ever changed through Store.Update so concurrent requests
// from the same browser see atomic read-modify-write cycles.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bankruptcy-console/internal/backend"
)

// ErrBusy is returned by Store.Begin when the same operation is already
// running for the session.
var ErrBusy = errors.New("operation already in progress")

// Kind selects how a status line is styled.
type Kind string

const (
	KindInfo    Kind = ""
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Status is one line of feedback shown on the model page.
type Status struct {
	Text string `json:"text"`
	Kind Kind   `json:"kind,omitempty"`
}

func Info(text string) Status    { return Status{Text: text, Kind: KindInfo} }
func Success(text string) Status { return Status{Text: text, Kind: KindSuccess} }
func Failure(text string) Status { return Status{Text: text, Kind: KindError} }

// State is everything the console remembers about one browser session.
// Metric pointers are never mutated in place, only replaced.
type State struct {
	ID          string           `json:"id"`
	ModelID     string           `json:"model_id,omitempty"`
	Current     backend.Metrics  `json:"current"`
	Candidate   *backend.Metrics `json:"candidate,omitempty"`
	UploadReady bool             `json:"upload_ready"`
	Status      Status           `json:"status"`
	SaveStatus  Status           `json:"save_status"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// NewState is the state of a session that has not done anything yet.
func NewState(id string, baseline backend.Metrics) State {
	return State{
		ID:        id,
		Current:   baseline,
		Status:    Success("Loaded default model metrics"),
		UpdatedAt: time.Now(),
	}
}

// ApplyUpload records a successful training data upload.
func (s *State) ApplyUpload(res backend.UploadResult) {
	s.UploadReady = true
	s.Status = Success(fmt.Sprintf("Successfully uploaded %d records. %d records were invalid.",
		res.RecordsAdded, res.InvalidRecords))
}

// ApplyRetrain remembers the candidate model and its metrics.
func (s *State) ApplyRetrain(res backend.RetrainResult) {
	m := res.Metrics
	s.ModelID = res.ModelID
	s.Candidate = &m
	s.Status = Success(res.Message)
}

// ApplySave promotes the metrics of the saved model to current. saved is
// the candidate as it was when the save was sent; a retrain that finished
// in the meantime keeps its model id and candidate. The raw values are
// copied, never the formatted strings.
func (s *State) ApplySave(modelID string, saved *backend.Metrics) {
	if saved != nil {
		s.Current = *saved
	}
	s.SaveStatus = Success("Model saved successfully!")
	if s.ModelID == modelID {
		s.Status = Success("Model saved successfully! Current metrics updated.")
	} else {
		s.Status = Success(fmt.Sprintf("Model %s saved. Current metrics updated; %s is not saved yet.", modelID, s.ModelID))
	}
}

// RequireModel fails with backend.ErrNoModel until a retrain has produced
// a model id.
func (s *State) RequireModel() error {
	if s.ModelID == "" {
		return backend.ErrNoModel
	}
	return nil
}

// CanSave reports whether the save control should be enabled.
func (s *State) CanSave() bool {
	return s.ModelID != ""
}

// Store holds session state. Implementations must make Update atomic per
// session id and Begin atomic per (id, op).
type Store interface {
	// Get returns the state for id, or a fresh state if none is stored.
	Get(ctx context.Context, id string) (State, error)

	// Update applies fn to the state for id and stores the result. If fn
	// returns an error nothing is stored.
	Update(ctx context.Context, id string, fn func(*State) error) (State, error)

	// Reset drops the state for id.
	Reset(ctx context.Context, id string) error

	// Begin marks op as running for id. It fails with ErrBusy if op is
	// already running.
	Begin(ctx context.Context, id string, op backend.Op) error

	// End clears the mark set by Begin.
	End(ctx context.Context, id string, op backend.Op) error

	// InFlight reports whether op is running for id.
	InFlight(ctx context.Context, id string, op backend.Op) (bool, error)

	Close() error
}

func busy(op backend.Op) error {
	return fmt.Errorf("%s: %w", op, ErrBusy)
}
