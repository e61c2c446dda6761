//go:build !eou

package eou

import (
	"context"
	"fmt"
)

// ONNXDetector is unavailable without the eou build tag.
type ONNXDetector struct{}

// NewONNXDetector reports that model-backed detection was not compiled
// in. Callers fall back to the Heuristic detector.
func NewONNXDetector(modelPath string) (*ONNXDetector, error) {
	return nil, fmt.Errorf("end-of-utterance model support not compiled in (rebuild with -tags=eou)")
}

// EndOfUtterance implements Detector for interface completeness; it is
// never reachable because the constructor always fails.
func (d *ONNXDetector) EndOfUtterance(context.Context, string) (float64, error) {
	return 0, fmt.Errorf("end-of-utterance model support not compiled in")
}
