package collector

import (
	"context"
	"time"
)

// ProgressFunc reports fetch progress as a percentage plus a short
// human-readable description of the current operation.
type ProgressFunc func(percent int, operation string)

// Fetcher retrieves content for one URL and reports the artifacts it wrote
// under the download root. Implementations must honor ctx cancellation and
// call progress (when non-nil) from the fetching goroutine only.
type Fetcher interface {
	Scrape(ctx context.Context, jobID, rawURL string, progress ProgressFunc) (ScrapeResult, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique job identifiers.
type IDGenerator interface {
	NewID() string
}
