package session

import (
	"errors"
	"testing"

	"bankruptcy-console/internal/backend"
)

func TestStateRequireModel(t *testing.T) {
	st := NewState("abc", baseline)
	if err := st.RequireModel(); !errors.Is(err, backend.ErrNoModel) {
		t.Errorf("RequireModel = %v, want ErrNoModel", err)
	}
	if st.CanSave() {
		t.Error("CanSave before retrain")
	}

	st.ApplyRetrain(backend.RetrainResult{ModelID: "m-1"})
	if err := st.RequireModel(); err != nil {
		t.Errorf("RequireModel after retrain = %v", err)
	}
}

func TestStateApplyUpload(t *testing.T) {
	st := NewState("abc", baseline)
	st.ApplyUpload(backend.UploadResult{RecordsAdded: 120, InvalidRecords: 3})

	if !st.UploadReady {
		t.Error("UploadReady not set")
	}
	want := "Successfully uploaded 120 records. 3 records were invalid."
	if st.Status.Text != want || st.Status.Kind != KindSuccess {
		t.Errorf("Status = %+v", st.Status)
	}
}

func TestStateApplySavePromotesRawValues(t *testing.T) {
	st := NewState("abc", baseline)
	st.ApplyRetrain(backend.RetrainResult{
		ModelID: "m-2",
		Metrics: backend.Metrics{Accuracy: f(0.97123456), Precision: f(0.5), Recall: nil, F1: f(1.0 / 32)},
		Message: "ok",
	})
	st.ApplySave(st.ModelID, st.Candidate)

	if *st.Current.Accuracy != 0.97123456 {
		t.Errorf("Accuracy = %v, want the unrounded value", *st.Current.Accuracy)
	}
	if *st.Current.F1 != 1.0/32 {
		t.Errorf("F1 = %v", *st.Current.F1)
	}
	if st.Current.Recall != nil {
		t.Errorf("Recall = %v, want nil", *st.Current.Recall)
	}
	if st.SaveStatus.Text != "Model saved successfully!" {
		t.Errorf("SaveStatus = %q", st.SaveStatus.Text)
	}
	if st.Status.Text != "Model saved successfully! Current metrics updated." {
		t.Errorf("Status = %q", st.Status.Text)
	}
}

func TestStateApplySaveAfterNewerRetrain(t *testing.T) {
	st := NewState("abc", baseline)
	st.ApplyRetrain(backend.RetrainResult{ModelID: "model-a", Metrics: backend.Metrics{Accuracy: f(0.1111)}})
	modelID, saved := st.ModelID, st.Candidate

	st.ApplyRetrain(backend.RetrainResult{ModelID: "model-b", Metrics: backend.Metrics{Accuracy: f(0.9999)}})
	st.ApplySave(modelID, saved)

	if *st.Current.Accuracy != 0.1111 {
		t.Errorf("Current.Accuracy = %v, want the saved model's 0.1111", *st.Current.Accuracy)
	}
	if st.ModelID != "model-b" || *st.Candidate.Accuracy != 0.9999 {
		t.Errorf("newer candidate lost: id=%q candidate=%v", st.ModelID, *st.Candidate.Accuracy)
	}
	if !st.CanSave() {
		t.Error("newer model must stay saveable")
	}
	want := "Model model-a saved. Current metrics updated; model-b is not saved yet."
	if st.Status.Text != want {
		t.Errorf("Status = %q, want %q", st.Status.Text, want)
	}
}
