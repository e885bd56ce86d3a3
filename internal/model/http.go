package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// HTTPConfig configures an HTTPModel.
type HTTPConfig struct {
	Endpoint string // e.g. http://localhost:8501
	Name     string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// HTTPModel calls a TensorFlow Serving style REST predict endpoint.
type HTTPModel struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// NewHTTPModel creates a model client for cfg.
func NewHTTPModel(cfg HTTPConfig) (*HTTPModel, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("model endpoint is required")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPModel{
		url:    strings.TrimRight(cfg.Endpoint, "/") + "/v1/models/" + cfg.Name + ":predict",
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logger.With("component", "model", "model", cfg.Name),
	}, nil
}

// URL returns the predict endpoint.
func (m *HTTPModel) URL() string {
	return m.url
}

type predictRequest struct {
	Instances [][][][]float32 `json:"instances"`
}

type predictResponse struct {
	Predictions []json.RawMessage `json:"predictions"`
	Error       string            `json:"error,omitempty"`
}

// Predict posts the batch and decodes one tensor per instance.
func (m *HTTPModel) Predict(ctx context.Context, batch Batch) ([]Tensor, error) {
	req := predictRequest{Instances: make([][][][]float32, batch.Len())}
	for i, img := range batch.Images {
		if len(img) != batch.Height*batch.Width*batch.Channels {
			return nil, fmt.Errorf("image %d has %d values, batch shape needs %d",
				i, len(img), batch.Height*batch.Width*batch.Channels)
		}
		req.Instances[i] = nest(img, batch.Height, batch.Width, batch.Channels)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("model returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("model error: %s", out.Error)
	}

	tensors := make([]Tensor, len(out.Predictions))
	for i, raw := range out.Predictions {
		t, err := decodeTensor(raw)
		if err != nil {
			return nil, fmt.Errorf("prediction %d: %w", i, err)
		}
		tensors[i] = t
	}

	m.log.Debug("batch predicted",
		"images", batch.Len(),
		"duration", time.Since(start))
	return tensors, nil
}

func nest(data []float32, h, w, c int) [][][]float32 {
	rows := make([][][]float32, h)
	for y := 0; y < h; y++ {
		rows[y] = make([][]float32, w)
		for x := 0; x < w; x++ {
			off := (y*w + x) * c
			rows[y][x] = data[off : off+c]
		}
	}
	return rows
}

// decodeTensor accepts [H][W][C] or, for single-channel models that squeeze
// the last axis, [H][W].
func decodeTensor(raw json.RawMessage) (Tensor, error) {
	var hwc [][][]float64
	if err := json.Unmarshal(raw, &hwc); err == nil {
		return flatten(hwc)
	}

	var hw [][]float64
	if err := json.Unmarshal(raw, &hw); err != nil {
		return Tensor{}, fmt.Errorf("prediction is not a 2-D or 3-D array: %w", err)
	}
	hwc = make([][][]float64, len(hw))
	for y, row := range hw {
		hwc[y] = make([][]float64, len(row))
		for x, v := range row {
			hwc[y][x] = []float64{v}
		}
	}
	return flatten(hwc)
}

func flatten(hwc [][][]float64) (Tensor, error) {
	if len(hwc) == 0 || len(hwc[0]) == 0 || len(hwc[0][0]) == 0 {
		return Tensor{}, fmt.Errorf("empty prediction")
	}
	t := Tensor{
		Height:   len(hwc),
		Width:    len(hwc[0]),
		Channels: len(hwc[0][0]),
		DType:    Float32,
	}
	t.Data = make([]float32, 0, t.Height*t.Width*t.Channels)
	for y, row := range hwc {
		if len(row) != t.Width {
			return Tensor{}, fmt.Errorf("row %d has width %d, want %d", y, len(row), t.Width)
		}
		for x, px := range row {
			if len(px) != t.Channels {
				return Tensor{}, fmt.Errorf("pixel (%d,%d) has %d channels, want %d", y, x, len(px), t.Channels)
			}
			for _, v := range px {
				t.Data = append(t.Data, float32(v))
			}
		}
	}
	return t, nil
}

// Verify HTTPModel implements Model.
var _ Model = (*HTTPModel)(nil)
