package backend

// Op names one outbound operation. It doubles as a metrics label, an
// activity log key and a single-flight key.
type Op string

const (
	OpPredictSingle Op = "predict_single"
	OpPredictBulk   Op = "predict_bulk"
	OpUpload        Op = "upload_training_data"
	OpRetrain       Op = "retrain"
	OpSaveModel     Op = "save_model"
)

// Ops lists every operation in display order.
var Ops = []Op{OpPredictSingle, OpPredictBulk, OpUpload, OpRetrain, OpSaveModel}

// Label is the human name used in busy messages.
func (o Op) Label() string {
	switch o {
	case OpPredictSingle:
		return "Prediction"
	case OpPredictBulk:
		return "Bulk prediction"
	case OpUpload:
		return "Upload"
	case OpRetrain:
		return "Retraining"
	case OpSaveModel:
		return "Save"
	default:
		return string(o)
	}
}

// Prediction is one classification returned by the API.
// Probability is nil when the backend omits it.
type Prediction struct {
	Prediction  int      `json:"prediction"`
	Probability *float64 `json:"probability,omitempty"`
}

// HighRisk reports whether the record was classified as likely bankrupt.
func (p Prediction) HighRisk() bool {
	return p.Prediction == 1
}

// Metrics summarises a trained model. Absent values stay nil.
type Metrics struct {
	Accuracy  *float64 `json:"accuracy"`
	Precision *float64 `json:"precision"`
	Recall    *float64 `json:"recall"`
	F1        *float64 `json:"f1"`
}

// UploadResult is the response of /upload-training-data/.
type UploadResult struct {
	RecordsAdded   int `json:"records_added"`
	InvalidRecords int `json:"invalid_records"`
}

// RetrainResult is the response of /retrain/.
type RetrainResult struct {
	ModelID string  `json:"model_id"`
	Metrics Metrics `json:"metrics"`
	Message string  `json:"message"`
}

// SaveResult is the response of /save-model/.
type SaveResult struct {
	Message string `json:"message"`
}
