// Package backend is the client for the bankruptcy prediction API.
//
// Every operation is a single request/response exchange. Nothing is retried
// or deduplicated here; callers decide how to guard repeated submits.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"bankruptcy-console/internal/features"
	"bankruptcy-console/internal/util"
)

const (
	pathPredictSingle = "predict-single/"
	pathPredictBulk   = "predict-bulk/"
	pathUpload        = "upload-training-data/"
	pathRetrain       = "retrain/"
	pathSaveModel     = "save-model/"

	// Bulk responses carry one object per uploaded row.
	maxResponseBytes = 64 * 1024 * 1024
)

// Client talks to the prediction API rooted at BaseURL.
type Client struct {
	BaseURL *url.URL
	HTTP    *http.Client
}

// NewClient constructs a client. A zero timeout leaves requests bounded
// only by their context.
func NewClient(base string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	return &Client{
		BaseURL: u,
		HTTP:    &http.Client{Timeout: timeout},
	}, nil
}

// PredictSingle classifies one feature record.
func (c *Client) PredictSingle(ctx context.Context, rec features.Record) (Prediction, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return Prediction{}, fmt.Errorf("encode record: %w", err)
	}

	body, status, err := c.do(ctx, OpPredictSingle, pathPredictSingle, "application/json", bytes.NewReader(payload))
	if err != nil {
		return Prediction{}, err
	}
	if !isSuccess(status) {
		// The single form never looked at error bodies.
		return Prediction{}, &APIError{Op: OpPredictSingle, StatusCode: status, Message: fmt.Sprintf("Server error: %d", status)}
	}
	if !gjson.ValidBytes(body) {
		return Prediction{}, fmt.Errorf("%s: %w", OpPredictSingle, ErrInvalidFormat)
	}
	return parsePrediction(gjson.ParseBytes(body)), nil
}

// PredictBulk classifies every row of an uploaded dataset. Results keep the
// row order of the file.
func (c *Client) PredictBulk(ctx context.Context, up Upload) ([]Prediction, error) {
	body, status, err := c.postFile(ctx, OpPredictBulk, pathPredictBulk, up)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		msg := errorMessage(body, fmt.Sprintf("Server error: %d", status), "detail")
		return nil, &APIError{Op: OpPredictBulk, StatusCode: status, Message: msg}
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%s: %w", OpPredictBulk, ErrInvalidFormat)
	}
	results := gjson.GetBytes(body, "results")
	if !results.IsArray() {
		return nil, fmt.Errorf("%s: %w", OpPredictBulk, ErrInvalidFormat)
	}

	items := results.Array()
	out := make([]Prediction, 0, len(items))
	for _, item := range items {
		out = append(out, parsePrediction(item))
	}
	return out, nil
}

// UploadTrainingData appends a labelled dataset to the training store.
func (c *Client) UploadTrainingData(ctx context.Context, up Upload) (UploadResult, error) {
	body, status, err := c.postFile(ctx, OpUpload, pathUpload, up)
	if err != nil {
		return UploadResult{}, err
	}
	if !isSuccess(status) {
		msg := errorMessage(body, "Upload failed", "detail", "message")
		return UploadResult{}, &APIError{Op: OpUpload, StatusCode: status, Message: msg}
	}

	var out UploadResult
	if err := json.Unmarshal(body, &out); err != nil {
		return UploadResult{}, fmt.Errorf("%s: %w: %v", OpUpload, ErrInvalidFormat, err)
	}
	return out, nil
}

// Retrain trains a candidate model. The backend keeps it unsaved until
// SaveModel is called with the returned id.
func (c *Client) Retrain(ctx context.Context) (RetrainResult, error) {
	body, status, err := c.do(ctx, OpRetrain, pathRetrain, "application/json", nil)
	if err != nil {
		return RetrainResult{}, err
	}
	if !isSuccess(status) {
		msg := errorMessage(body, "Retraining failed", "detail")
		return RetrainResult{}, &APIError{Op: OpRetrain, StatusCode: status, Message: msg}
	}

	var out RetrainResult
	if err := json.Unmarshal(body, &out); err != nil {
		return RetrainResult{}, fmt.Errorf("%s: %w: %v", OpRetrain, ErrInvalidFormat, err)
	}
	return out, nil
}

// SaveModel persists a candidate model. An empty id fails without
// contacting the API.
func (c *Client) SaveModel(ctx context.Context, modelID string) (SaveResult, error) {
	if modelID == "" {
		return SaveResult{}, ErrNoModel
	}

	payload, err := json.Marshal(map[string]string{"model_id": modelID})
	if err != nil {
		return SaveResult{}, err
	}

	body, status, err := c.do(ctx, OpSaveModel, pathSaveModel, "application/json", bytes.NewReader(payload))
	if err != nil {
		return SaveResult{}, err
	}
	if !isSuccess(status) {
		msg := errorMessage(body, "Save failed", "detail")
		return SaveResult{}, &APIError{Op: OpSaveModel, StatusCode: status, Message: msg}
	}

	var out SaveResult
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return SaveResult{}, fmt.Errorf("%s: %w: %v", OpSaveModel, ErrInvalidFormat, err)
		}
	}
	return out, nil
}

// Ping issues a GET against path and reports the status code.
func (c *Client) Ping(ctx context.Context, path string) (int, error) {
	u := c.BaseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	return resp.StatusCode, nil
}

func (c *Client) postFile(ctx context.Context, op Op, path string, up Upload) ([]byte, int, error) {
	if up.Body == nil {
		return nil, 0, ErrNoFile
	}

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	part, err := mw.CreateFormFile("file", up.Name)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: build multipart: %w", op, err)
	}
	if _, err := io.Copy(part, up.Body); err != nil {
		return nil, 0, fmt.Errorf("%s: read upload: %w", op, err)
	}
	if err := mw.Close(); err != nil {
		return nil, 0, fmt.Errorf("%s: build multipart: %w", op, err)
	}

	return c.do(ctx, op, path, mw.FormDataContentType(), buf)
}

// do POSTs to path and returns the (size-limited) response body and status.
// Only transport failures are returned as errors.
func (c *Client) do(ctx context.Context, op Op, path, contentType string, body io.Reader) ([]byte, int, error) {
	u := c.BaseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), body)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, 0, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	buf, _, err := util.ReadAllLimit(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, resp.StatusCode, &TransportError{Op: op, Err: err}
	}
	return buf, resp.StatusCode, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// parsePrediction follows the loose typing of the API: only a numeric 1 is
// high risk, and a non-numeric probability counts as absent.
func parsePrediction(v gjson.Result) Prediction {
	var p Prediction
	if pred := v.Get("prediction"); pred.Type == gjson.Number && pred.Num == 1 {
		p.Prediction = 1
	}
	if prob := v.Get("probability"); prob.Type == gjson.Number {
		f := prob.Num
		p.Probability = &f
	}
	return p
}
