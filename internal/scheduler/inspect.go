package scheduler

import (
	"context"
	"fmt"

	"github.com/JakeFAU/zealywatch/internal/monitor"
)

// Inspection is the outcome of an out-of-band check.
type Inspection struct {
	Target  monitor.Target
	Result  monitor.FetchResult
	Err     error
	Changed bool
}

// CheckNow fetches a registered target immediately without touching its
// stored state, for operator diagnosis.
func (s *Scheduler) CheckNow(ctx context.Context, url string) (Inspection, error) {
	target, ok := s.targets.Get(url)
	if !ok {
		return Inspection{}, fmt.Errorf("%w: %s", ErrUnknownTarget, url)
	}
	result, err := s.fetcher.Fetch(ctx, url)
	insp := Inspection{Target: target, Result: result, Err: err}
	if err == nil {
		insp.Changed = target.Fingerprint != "" && target.Fingerprint != result.Digest
	}
	return insp, nil
}
