package shipping

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/impetus-mx/storefront-api/internal/model"
	"github.com/impetus-mx/storefront-api/pkg/skydropx"
)

// defaultRetryDelays are the fixed backoff delays between attempts against a
// single payload candidate. Two retries after the initial attempt.
var defaultRetryDelays = []time.Duration{650 * time.Millisecond, 1100 * time.Millisecond}

// Result is the outcome of one quote run: the ranked options plus the counts
// the orchestrator uses to compare attempts.
type Result struct {
	Options         []model.NormalizedOption
	StrictCount     int
	FallbackCount   int
	SourceCount     int
	NormalizedCount int
	CandidateIndex  int
	// RawResponse is kept for server-side diagnostics only; it never reaches
	// the client.
	RawResponse any
}

// Quoter drives the candidate-shape loop against the carrier: each payload
// candidate is tried with retries on empty or partial responses, and the
// first candidate yielding options wins.
type Quoter struct {
	client skydropx.Client
	delays []time.Duration
}

// QuoterOption configures a Quoter.
type QuoterOption func(*Quoter)

// WithRetryDelays overrides the backoff delays between attempts (for testing).
func WithRetryDelays(delays []time.Duration) QuoterOption {
	return func(q *Quoter) {
		q.delays = delays
	}
}

// NewQuoter creates a Quoter over the given carrier client.
func NewQuoter(client skydropx.Client, opts ...QuoterOption) *Quoter {
	q := &Quoter{
		client: client,
		delays: defaultRetryDelays,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Quote runs the full candidate/retry state machine and returns the best
// result. An HTTP 400 from the carrier advances to the next candidate shape;
// any other transport error propagates immediately. When every candidate is
// exhausted without options and without a hard error, the last empty result
// is returned rather than an error.
func (q *Quoter) Quote(ctx context.Context, req QuoteRequest) (*Result, error) {
	candidates := BuildCandidates(req)

	var lastRejection error
	var lastEmpty *Result

	for i, candidate := range candidates {
		best, err := q.tryCandidate(ctx, i, candidate, &lastEmpty)
		if err != nil {
			var reqErr *skydropx.RequestError
			if errors.As(err, &reqErr) && reqErr.StatusCode == 400 {
				if i < len(candidates)-1 {
					zap.L().Debug("carrier rejected payload candidate",
						zap.Int("candidate", i),
						zap.Int("status", reqErr.StatusCode),
					)
					lastRejection = err
					continue
				}
				reqErr.Attempts = len(candidates)
			}
			return nil, err
		}

		if best != nil && len(best.Options) > 0 {
			return best, nil
		}
	}

	if lastRejection != nil {
		var reqErr *skydropx.RequestError
		if errors.As(lastRejection, &reqErr) {
			reqErr.Attempts = len(candidates)
		}
		return nil, lastRejection
	}

	if lastEmpty != nil {
		return lastEmpty, nil
	}

	return nil, eris.New("shipping: quotation failed with no payload candidates to try")
}

// tryCandidate runs the retry loop for a single payload candidate, tracking
// the best result seen across attempts.
func (q *Quoter) tryCandidate(ctx context.Context, index int, candidate map[string]any, lastEmpty **Result) (*Result, error) {
	var best *Result

	for attempt := 0; attempt <= len(q.delays); attempt++ {
		raw, err := q.client.Quote(ctx, candidate)
		if err != nil {
			return nil, err
		}

		normalized := Normalize(raw)
		result := &Result{
			Options:         normalized.Options,
			StrictCount:     len(normalized.StrictOptions),
			FallbackCount:   len(normalized.FallbackOptions),
			SourceCount:     normalized.SourceCount,
			NormalizedCount: len(normalized.Options),
			CandidateIndex:  index,
			RawResponse:     raw,
		}

		if betterResult(result, best) {
			best = result
		}
		*lastEmpty = result

		if attempt >= len(q.delays) {
			break
		}

		progress := quoteProgress(raw, normalized)
		var retry bool
		if len(result.Options) == 0 {
			retry = progress.shouldRetryEmpty()
		} else {
			retry = progress.shouldRetryPartial(len(result.Options))
		}
		if !retry {
			break
		}

		zap.L().Debug("retrying quote candidate on incomplete response",
			zap.Int("candidate", index),
			zap.Int("attempt", attempt+1),
			zap.Int("options", len(result.Options)),
			zap.Int("source_entries", result.SourceCount),
		)

		if err := sleepContext(ctx, q.delays[attempt]); err != nil {
			return nil, err
		}
	}

	return best, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// progressFlags summarize the "still processing" signals a response may
// carry. This is a best-effort heuristic inferred from observed response
// shapes, not a documented carrier contract.
type progressFlags struct {
	pending       bool
	hasQuoteID    bool
	hasContainers bool
	hasRawEntries bool
}

func quoteProgress(body any, normalized NormalizedResponse) progressFlags {
	m := asMap(body)
	scope := asMap(m["quotation_scope"])

	statusText := strings.ToLower(scalarText(firstTruthy(m["status"], scope["status"])))
	pending := m["is_completed"] == false ||
		scope["is_completed"] == false ||
		statusText == "pending" ||
		statusText == "processing"

	hasQuoteID := truthy(firstTruthy(m["id"], m["quotation_id"], m["quote_id"], scope["id"]))

	_, hasRates := m["rates"]
	_, hasPackages := m["packages"]
	_, hasScope := m["quotation_scope"]
	hasContainers := hasRates || hasPackages || hasScope

	return progressFlags{
		pending:       pending,
		hasQuoteID:    hasQuoteID,
		hasContainers: hasContainers,
		hasRawEntries: normalized.SourceCount > 0,
	}
}

// shouldRetryEmpty: no options came back but the envelope suggests the
// carrier is still assembling rates (explicit pending flags, a quote id with
// rate containers, or raw entries that all failed normalization).
func (p progressFlags) shouldRetryEmpty() bool {
	return p.pending || (p.hasQuoteID && p.hasContainers) || p.hasRawEntries
}

// shouldRetryPartial: a very small initial set from a dynamic-looking
// envelope is suspected to be an incomplete rate sheet.
func (p progressFlags) shouldRetryPartial(optionCount int) bool {
	if p.pending {
		return true
	}
	return p.hasQuoteID && p.hasContainers && optionCount > 0 && optionCount <= 2
}

// betterResult prefers more options, then more strict options, then a lower
// minimum price.
func betterResult(candidate, current *Result) bool {
	if current == nil {
		return true
	}
	if len(candidate.Options) != len(current.Options) {
		return len(candidate.Options) > len(current.Options)
	}
	if candidate.StrictCount != current.StrictCount {
		return candidate.StrictCount > current.StrictCount
	}

	candidateMin := minOptionPrice(candidate.Options)
	currentMin := minOptionPrice(current.Options)
	return candidateMin < currentMin
}

func minOptionPrice(options []model.NormalizedOption) float64 {
	minPrice := math.Inf(1)
	for _, option := range options {
		if option.PriceMXN > 0 && option.PriceMXN < minPrice {
			minPrice = option.PriceMXN
		}
	}
	return minPrice
}
