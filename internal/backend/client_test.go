package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"bankruptcy-console/internal/features"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL+"/", 0)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	return c
}

func csvUpload(t *testing.T) Upload {
	t.Helper()
	data := "retained_earnings_to_total_assets,borrowing_dependency\n0.1,0.2\n0.3,0.4\n"
	up, err := NewUpload("rows.csv", strings.NewReader(data), int64(len(data)), []string{"text/csv", "text/plain"})
	if err != nil {
		t.Fatalf("NewUpload error: %v", err)
	}
	return up
}

func TestPredictSingle(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/predict-single/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var rec map[string]float64
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if rec["borrowing_dependency"] != 0.37 {
			t.Errorf("borrowing_dependency = %v", rec["borrowing_dependency"])
		}
		w.Write([]byte(`{"prediction":1,"probability":0.87}`))
	})

	got, err := c.PredictSingle(context.Background(), features.Record{"borrowing_dependency": 0.37})
	if err != nil {
		t.Fatalf("PredictSingle error: %v", err)
	}
	if !got.HighRisk() {
		t.Error("expected high risk")
	}
	if got.Probability == nil || *got.Probability != 0.87 {
		t.Errorf("Probability = %v", got.Probability)
	}
}

func TestPredictSingleServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail":"model file missing"}`))
	})

	_, err := c.PredictSingle(context.Background(), features.Record{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	// The single form reports the status only.
	if apiErr.Message != "Server error: 500" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestPredictBulk(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict-bulk/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		if hdr.Filename != "rows.csv" || !strings.HasPrefix(string(b), "retained_earnings") {
			t.Errorf("file %q = %q", hdr.Filename, b)
		}
		w.Write([]byte(`{"results":[{"prediction":1,"probability":0.9},{"prediction":0},{"prediction":1.0,"probability":null},"junk"]}`))
	})

	got, err := c.PredictBulk(context.Background(), csvUpload(t))
	if err != nil {
		t.Fatalf("PredictBulk error: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	if !got[0].HighRisk() || *got[0].Probability != 0.9 {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].HighRisk() || got[1].Probability != nil {
		t.Errorf("got[1] = %+v", got[1])
	}
	if !got[2].HighRisk() || got[2].Probability != nil {
		t.Errorf("got[2] = %+v", got[2])
	}
	if got[3].HighRisk() {
		t.Errorf("got[3] = %+v", got[3])
	}
}

func TestPredictBulkInvalidFormat(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing results", `{"predictions":[0,1]}`},
		{"results not array", `{"results":{"prediction":1}}`},
		{"not json", `<html>oops</html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			_, err := c.PredictBulk(context.Background(), csvUpload(t))
			if !errors.Is(err, ErrInvalidFormat) {
				t.Fatalf("expected ErrInvalidFormat, got %v", err)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		call   func(*Client) error
		want   string
	}{
		{
			name:   "bulk detail",
			status: http.StatusBadRequest,
			body:   `{"detail":"Missing features: {'borrowing_dependency'}"}`,
			call: func(c *Client) error {
				_, err := c.PredictBulk(context.Background(), Upload{Name: "a.csv", Body: strings.NewReader("a\n")})
				return err
			},
			want: "Missing features: {'borrowing_dependency'}",
		},
		{
			name:   "bulk generic",
			status: http.StatusBadGateway,
			body:   `bad gateway`,
			call: func(c *Client) error {
				_, err := c.PredictBulk(context.Background(), Upload{Name: "a.csv", Body: strings.NewReader("a\n")})
				return err
			},
			want: "Server error: 502",
		},
		{
			name:   "upload message",
			status: http.StatusUnprocessableEntity,
			body:   `{"message":"bad columns"}`,
			call: func(c *Client) error {
				_, err := c.UploadTrainingData(context.Background(), Upload{Name: "a.csv", Body: strings.NewReader("a\n")})
				return err
			},
			want: "bad columns",
		},
		{
			name:   "upload detail wins",
			status: http.StatusBadRequest,
			body:   `{"detail":"empty file","message":"ignored"}`,
			call: func(c *Client) error {
				_, err := c.UploadTrainingData(context.Background(), Upload{Name: "a.csv", Body: strings.NewReader("a\n")})
				return err
			},
			want: "empty file",
		},
		{
			name:   "upload generic",
			status: http.StatusInternalServerError,
			body:   `{}`,
			call: func(c *Client) error {
				_, err := c.UploadTrainingData(context.Background(), Upload{Name: "a.csv", Body: strings.NewReader("a\n")})
				return err
			},
			want: "Upload failed",
		},
		{
			name:   "retrain detail",
			status: http.StatusBadRequest,
			body:   `{"detail":"Insufficient training data (minimum 100 records required)"}`,
			call: func(c *Client) error {
				_, err := c.Retrain(context.Background())
				return err
			},
			want: "Insufficient training data (minimum 100 records required)",
		},
		{
			name:   "retrain non-string detail",
			status: http.StatusUnprocessableEntity,
			body:   `{"detail":[{"loc":["body"],"msg":"field required"}]}`,
			call: func(c *Client) error {
				_, err := c.Retrain(context.Background())
				return err
			},
			want: `[{"loc":["body"],"msg":"field required"}]`,
		},
		{
			name:   "save generic",
			status: http.StatusNotFound,
			body:   `{"detail":""}`,
			call: func(c *Client) error {
				_, err := c.SaveModel(context.Background(), "m-1")
				return err
			},
			want: "Save failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			err := tt.call(c)
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.Message != tt.want {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.want)
			}
		})
	}
}

func TestUploadTrainingData(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload-training-data/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("FormFile: %v", err)
		}
		w.Write([]byte(`{"records_added":120,"invalid_records":3}`))
	})

	got, err := c.UploadTrainingData(context.Background(), csvUpload(t))
	if err != nil {
		t.Fatalf("UploadTrainingData error: %v", err)
	}
	if got.RecordsAdded != 120 || got.InvalidRecords != 3 {
		t.Errorf("got %+v", got)
	}
}

func TestRetrainAndSave(t *testing.T) {
	var saved atomic.Value
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/retrain/":
			w.Write([]byte(`{"model_id":"m-42","metrics":{"accuracy":0.97,"precision":0.5,"recall":0.3,"f1":null},"message":"Model trained successfully."}`))
		case "/save-model/":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			saved.Store(body["model_id"])
			w.Write([]byte(`{"success":true,"message":"Model saved successfully"}`))
		default:
			http.NotFound(w, r)
		}
	})

	res, err := c.Retrain(context.Background())
	if err != nil {
		t.Fatalf("Retrain error: %v", err)
	}
	if res.ModelID != "m-42" || res.Message != "Model trained successfully." {
		t.Errorf("Retrain = %+v", res)
	}
	if res.Metrics.Accuracy == nil || *res.Metrics.Accuracy != 0.97 {
		t.Errorf("Accuracy = %v", res.Metrics.Accuracy)
	}
	if res.Metrics.F1 != nil {
		t.Errorf("F1 = %v, want nil", *res.Metrics.F1)
	}

	out, err := c.SaveModel(context.Background(), res.ModelID)
	if err != nil {
		t.Fatalf("SaveModel error: %v", err)
	}
	if out.Message != "Model saved successfully" {
		t.Errorf("Message = %q", out.Message)
	}
	if saved.Load() != "m-42" {
		t.Errorf("saved model id = %v", saved.Load())
	}
}

func TestSaveModelWithoutIDSendsNothing(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := c.SaveModel(context.Background(), "")
	if !errors.Is(err, ErrNoModel) {
		t.Fatalf("expected ErrNoModel, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("backend called %d times", calls.Load())
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := NewClient(base, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Retrain(context.Background())
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.Op != OpRetrain {
		t.Errorf("Op = %v", te.Op)
	}
}

func TestBasePathIsKept(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/retrain/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"model_id":"x","metrics":{},"message":"ok"}`))
	})
	c.BaseURL = c.BaseURL.JoinPath("v2")

	if _, err := c.Retrain(context.Background()); err != nil {
		t.Fatalf("Retrain error: %v", err)
	}
}
