// Package risk integrates the external AI scoring service. The model
// itself is opaque: this package only carries features out and scores back,
// within a bounded time budget.
package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcm/rcm/internal/platform/errs"
)

// Features is the scoring input contract. All fields are optional except
// the amount; omitted fields are simply absent from the payload. A struct
// rather than an open map keeps the contract checkable at compile time.
type Features struct {
	AmountMinor           int64    `json:"amount_minor"`
	Payer                 string   `json:"payer,omitempty"`
	ICDCodes              []string `json:"icd_codes,omitempty"`
	CPTCodes              []string `json:"cpt_codes,omitempty"`
	DocumentationComplete *bool    `json:"documentation_complete,omitempty"`
	PriorDenials          *int     `json:"prior_denials,omitempty"`
	LengthOfStayDays      *int     `json:"length_of_stay_days,omitempty"`
	PatientAgeYears       *int     `json:"patient_age_years,omitempty"`
}

// Factor is one contributing factor in a score explanation.
type Factor struct {
	Name      string  `json:"name"`
	Impact    float64 `json:"impact"` // signed
	Direction string  `json:"direction"`
}

// Score is a scoring-service response.
type Score struct {
	Value       float64  `json:"score"` // 0-100
	Explanation string   `json:"explanation,omitempty"`
	Factors     []Factor `json:"factors,omitempty"`
}

// TopFactors returns the n factors with the largest absolute impact,
// descending. Ties keep their original order.
func TopFactors(factors []Factor, n int) []Factor {
	out := make([]Factor, len(factors))
	copy(out, factors)
	sort.SliceStable(out, func(i, j int) bool {
		return abs(out[i].Impact) > abs(out[j].Impact)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// Provider produces risk scores for claim features.
type Provider interface {
	Score(ctx context.Context, features Features) (*Score, error)
}

// HTTPProvider calls the scoring service over HTTP with a per-call budget.
// A timeout surfaces as UpstreamTimeoutError so callers can distinguish
// "model slow" from "model rejected the input".
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// NewHTTPProvider creates a provider against the given base URL.
func NewHTTPProvider(baseURL string, timeout time.Duration, logger zerolog.Logger) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		logger:  logger,
	}
}

// Score implements Provider.
func (p *HTTPProvider) Score(ctx context.Context, features Features) (*Score, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body, err := json.Marshal(features)
	if err != nil {
		return nil, fmt.Errorf("marshal features: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/score", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return nil, errs.UpstreamTimeout("risk scoring exceeded %s budget", p.timeout)
		}
		return nil, fmt.Errorf("score request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scoring service returned status %d", resp.StatusCode)
	}

	var score Score
	if err := json.NewDecoder(resp.Body).Decode(&score); err != nil {
		return nil, fmt.Errorf("decode score response: %w", err)
	}

	if score.Value < 0 || score.Value > 100 {
		return nil, fmt.Errorf("scoring service returned out-of-range score %.2f", score.Value)
	}

	p.logger.Debug().
		Float64("score", score.Value).
		Dur("latency", time.Since(start)).
		Msg("risk score fetched")

	return &score, nil
}
