package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/docsage/docsage/internal/model"
	"github.com/docsage/docsage/internal/util"
)

// Classifier decides whether a single chunk helps answer a query.
type Classifier interface {
	Classify(ctx context.Context, chunk, query string) (bool, error)
}

// RelevanceFilter fans one classification call per chunk out to the model
// and keeps the chunks judged relevant.
type RelevanceFilter struct {
	classifier Classifier
	timeout    time.Duration
	logger     *log.Logger
}

func NewRelevanceFilter(c Classifier, timeout time.Duration, logger *log.Logger) *RelevanceFilter {
	if logger == nil {
		logger = log.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RelevanceFilter{classifier: c, timeout: timeout, logger: logger}
}

// Filter classifies every chunk concurrently and returns the verdicts in
// original chunk order, whatever order the calls complete in. A failed or
// timed-out classification marks that one chunk not relevant; it never
// aborts the others.
func (f *RelevanceFilter) Filter(ctx context.Context, chunks []model.Chunk, query string) []model.Verdict {
	verdicts := make([]model.Verdict, len(chunks))

	var wg sync.WaitGroup
	for i, ch := range chunks {
		wg.Add(1)
		go func(i int, ch model.Chunk) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()

			relevant, err := f.classifier.Classify(callCtx, ch.Text, query)
			if err != nil {
				f.logger.Printf("relevance: chunk %d treated as not relevant: %v (query %q)",
					ch.Index, err, util.TruncateRunes(query, 80))
				relevant = false
			}
			verdicts[i] = model.Verdict{Chunk: ch, Relevant: relevant}
		}(i, ch)
	}
	wg.Wait()

	return verdicts
}

// Relevant returns the chunks marked relevant, original order preserved.
func Relevant(verdicts []model.Verdict) []model.Chunk {
	var out []model.Chunk
	for _, v := range verdicts {
		if v.Relevant {
			out = append(out, v.Chunk)
		}
	}
	return out
}
