package budget

import "github.com/nstogner/pare/pkg/domain"

// windowSize bounds the rolling history of recent tool calls.
const windowSize = 5

// LoopDetector watches assistant-proposed tool calls for doom loops. It
// fires on the second consecutive identical (tool, args fingerprint) pair so
// the repeat can be intercepted before dispatch.
type LoopDetector struct {
	recent []string
}

// Record notes a proposed tool call and reports whether it repeats the
// immediately preceding call.
func (d *LoopDetector) Record(name, arguments string) bool {
	fp := domain.ToolFingerprint(name, arguments)
	repeat := len(d.recent) > 0 && d.recent[len(d.recent)-1] == fp
	d.recent = append(d.recent, fp)
	if len(d.recent) > windowSize {
		d.recent = d.recent[1:]
	}
	return repeat
}

// Clear resets the window.
func (d *LoopDetector) Clear() {
	d.recent = nil
}

// LoopBreakBody is the tool result served in place of a repeated dispatch:
// the stored prior result plus an instruction to change strategy.
func LoopBreakBody(prior string) string {
	return "(cached, loop-break) change strategy — this exact call was just made. " +
		"The prior result is repeated below; do not issue it again.\n\n" + prior
}
