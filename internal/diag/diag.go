// ABOUTME: Diagnostics collector for recoverable calendar anomalies.
// ABOUTME: Accumulates (severity, UID, message) tuples instead of raising errors.

package diag

import (
	"fmt"
	"sync"
)

// Severity classifies how serious a diagnostic is. Nothing recorded here
// aborts processing of a collection; ERROR means a single UID was skipped.
type Severity string

const (
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// Diagnostic is a single recoverable anomaly attributed to one event.
type Diagnostic struct {
	Severity Severity
	UID      string
	Message  string
}

func (d Diagnostic) String() string {
	if d.UID == "" {
		return fmt.Sprintf("[%s] %s", d.Severity, d.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", d.Severity, d.UID, d.Message)
}

// Collector accumulates diagnostics emitted while loading and expanding
// events. It is safe for concurrent use so that expansion of distinct UIDs
// may run in parallel.
type Collector struct {
	mu    sync.Mutex
	diags []Diagnostic
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Warnf(uid, format string, args ...any) {
	c.add(Diagnostic{Severity: SeverityWarning, UID: uid, Message: fmt.Sprintf(format, args...)})
}

func (c *Collector) Errorf(uid, format string, args ...any) {
	c.add(Diagnostic{Severity: SeverityError, UID: uid, Message: fmt.Sprintf(format, args...)})
}

func (c *Collector) add(d Diagnostic) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.diags = append(c.diags, d)
	c.mu.Unlock()
}

// All returns a copy of every diagnostic collected so far, in emission order.
func (c *Collector) All() []Diagnostic {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Diagnostic, len(c.diags))
	copy(out, c.diags)
	return out
}

// ForUID returns the diagnostics recorded for a single UID.
func (c *Collector) ForUID(uid string) []Diagnostic {
	var out []Diagnostic
	for _, d := range c.All() {
		if d.UID == uid {
			out = append(out, d)
		}
	}
	return out
}
