// Package advisor obtains portfolio weight suggestions from remote AI
// models. Providers are tried in order; the first valid answer wins.
package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

var (
	// ErrServiceUnavailable is returned when every provider failed.
	ErrServiceUnavailable = errors.New("advisor: no weight provider available")

	// ErrBadWeights is returned for an unusable weight vector.
	ErrBadWeights = errors.New("advisor: invalid weight vector")
)

// SumTolerance is how far a weight vector may drift from 1 before it is
// renormalized.
const SumTolerance = 0.01

// Feature describes one asset to the model.
type Feature struct {
	Symbol      string    `json:"symbol,omitempty"`
	Returns     []float64 `json:"returns"`
	Risk        float64   `json:"risk"`
	SharpeRatio float64   `json:"sharpe_ratio"`
}

// Prediction is a model's weight vector with its rationale.
type Prediction struct {
	Weights  []float64 `json:"weights"`
	Analysis string    `json:"analysis"`
	Source   string    `json:"source"`
}

// Provider is a remote weight model.
type Provider interface {
	Name() string
	Predict(ctx context.Context, features []Feature) (*Prediction, error)
}

// Normalize checks a weight vector against the asset count and rescales it
// when its sum deviates from 1 by more than SumTolerance.
func Normalize(weights []float64, n int) ([]float64, error) {
	if len(weights) != n {
		return nil, fmt.Errorf("%w: got %d weights for %d assets", ErrBadWeights, len(weights), n)
	}
	sum := 0.0
	for _, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: non-finite weight", ErrBadWeights)
		}
		sum += w
	}
	if sum <= 0 {
		return nil, fmt.Errorf("%w: weights sum to %g", ErrBadWeights, sum)
	}
	out := make([]float64, n)
	copy(out, weights)
	if math.Abs(sum-1) > SumTolerance {
		for i := range out {
			out[i] /= sum
		}
	}
	return out, nil
}

// Chain tries providers in order, each under its own timeout.
type Chain struct {
	providers []Provider
	timeout   time.Duration
}

// NewChain builds a chain. A zero timeout means 30s.
func NewChain(timeout time.Duration, providers ...Provider) *Chain {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Chain{providers: providers, timeout: timeout}
}

// Len reports the number of configured providers.
func (c *Chain) Len() int { return len(c.providers) }

// Predict returns the first provider answer that passes Normalize.
func (c *Chain) Predict(ctx context.Context, features []Feature) (*Prediction, error) {
	var errs []error
	for _, p := range c.providers {
		pred, err := c.try(ctx, p, features)
		if err != nil {
			slog.Warn("weight provider failed", "provider", p.Name(), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		return pred, nil
	}
	if len(errs) == 0 {
		return nil, ErrServiceUnavailable
	}
	return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, errors.Join(errs...))
}

func (c *Chain) try(ctx context.Context, p Provider, features []Feature) (*Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pred, err := p.Predict(ctx, features)
	if err != nil {
		return nil, err
	}
	w, err := Normalize(pred.Weights, len(features))
	if err != nil {
		return nil, err
	}
	return &Prediction{Weights: w, Analysis: pred.Analysis, Source: p.Name()}, nil
}

// buildPrompt renders the features into the instruction sent to every model.
func buildPrompt(features []Feature) string {
	var sb strings.Builder
	sb.WriteString("You are a professional portfolio manager. Analyze the given stock features and suggest optimal portfolio weights.\n")
	sb.WriteString("Given the following stock features:\n")
	for i, f := range features {
		label := fmt.Sprintf("Stock %d", i+1)
		if f.Symbol != "" {
			label += " (" + f.Symbol + ")"
		}
		rets := make([]string, len(f.Returns))
		for j, r := range f.Returns {
			rets[j] = fmt.Sprintf("%.5f", r)
		}
		fmt.Fprintf(&sb, "%s:\n- Returns: %s\n- Risk: %.6f\n- Sharpe Ratio: %.4f\n",
			label, strings.Join(rets, ","), f.Risk, f.SharpeRatio)
	}
	fmt.Fprintf(&sb, `
Please analyze these stocks and suggest optimal portfolio weights that maximize the Sharpe Ratio while maintaining diversification.
Return a single, valid JSON object with two keys:
1. "weights": An array of exactly %d numbers that sum to 1, in the order given.
2. "analysis": A brief string (2-3 sentences) explaining why you chose these weights, based on risk, returns, and diversification.
`, len(features))
	return sb.String()
}

// parsePrediction decodes a model reply. Code fences around the JSON are
// tolerated.
func parsePrediction(text string) (*Prediction, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var out struct {
		Weights  []float64 `json:"weights"`
		Analysis string    `json:"analysis"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("decode model reply: %w", err)
	}
	if len(out.Weights) == 0 {
		return nil, fmt.Errorf("%w: reply has no weights", ErrBadWeights)
	}
	return &Prediction{Weights: out.Weights, Analysis: out.Analysis}, nil
}
