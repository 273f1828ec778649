package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxResponseBytes caps how much of a sidecar response is read.
const maxResponseBytes = 10 << 20 // 10 MB

// HTTPClient calls a token-classification sidecar that speaks the Hugging
// Face pipeline format:
//
//	POST <endpoint> {"inputs": "...", "parameters": {"aggregation_strategy": "none"}}
//	200 [{"entity":"B-PER","score":0.99,"index":1,"word":"Amit","start":0,"end":4}, ...]
type HTTPClient struct {
	url  string
	http *http.Client
}

// NewHTTPClient creates a client for the sidecar at endpoint
// (e.g. "http://ner:8001/ner").
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		url:  endpoint,
		http: &http.Client{Timeout: timeout},
	}
}

type detectRequest struct {
	Inputs     string         `json:"inputs"`
	Parameters detectSettings `json:"parameters"`
}

type detectSettings struct {
	AggregationStrategy string `json:"aggregation_strategy"`
}

// wirePrediction mirrors one element of the sidecar response. Offsets are
// pointers so a missing field can be told apart from offset 0.
type wirePrediction struct {
	Entity      string  `json:"entity"`
	EntityGroup string  `json:"entity_group"`
	Score       float64 `json:"score"`
	Index       int     `json:"index"`
	Word        string  `json:"word"`
	Start       *int    `json:"start"`
	End         *int    `json:"end"`
}

// Detect sends text to the sidecar and returns its predictions in order.
// "O" (outside) labels are dropped.
func (c *HTTPClient) Detect(ctx context.Context, text string) ([]Prediction, error) {
	body, err := json.Marshal(detectRequest{
		Inputs:     text,
		Parameters: detectSettings{AggregationStrategy: "none"},
	})
	if err != nil {
		return nil, fmt.Errorf("detector: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("detector: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req) // #nosec G107 -- URL from trusted config, not user input
	if err != nil {
		return nil, fmt.Errorf("detector: call %s: %w", c.url, err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("detector: read response: %w", err)
	}
	if int64(len(raw)) > maxResponseBytes {
		return nil, fmt.Errorf("detector: response exceeds %d bytes", maxResponseBytes)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector: status %d: %s", resp.StatusCode, snippet(raw))
	}

	var wire []wirePrediction
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("detector: decode: %w", err)
	}

	preds := make([]Prediction, 0, len(wire))
	for _, w := range wire {
		label := w.Entity
		if label == "" {
			label = w.EntityGroup
		}
		if label == "" || label == "O" {
			continue
		}
		p := Prediction{
			Word:   w.Word,
			Entity: label,
			Index:  w.Index,
			Score:  w.Score,
			Start:  -1,
			End:    -1,
		}
		if w.Start != nil && w.End != nil {
			p.Start, p.End = *w.Start, *w.End
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// snippet returns a short single-line excerpt of a response body for errors.
func snippet(b []byte) string {
	s := strings.Join(strings.Fields(string(b)), " ")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// HTTPFactory returns a Factory that builds an HTTPClient. With warmup set,
// initialisation sends one probe detection so the sidecar loads its model
// before the first real request; a failed probe fails initialisation.
func HTTPFactory(endpoint string, timeout time.Duration, warmup bool) Factory {
	return func(ctx context.Context) (Detector, error) {
		if endpoint == "" {
			return nil, fmt.Errorf("no detector endpoint configured")
		}
		c := NewHTTPClient(endpoint, timeout)
		if warmup {
			if _, err := c.Detect(ctx, "Warmup sentence from Kavach."); err != nil {
				return nil, fmt.Errorf("warmup: %w", err)
			}
		}
		return c, nil
	}
}
