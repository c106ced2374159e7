package agent

// Event is the union of UI notifications emitted while a run is in flight.
// The TUI renders them; headless mode prints them. The loop emits them
// synchronously on its own goroutine, so a slow consumer slows the loop.
type Event interface{ isEvent() }

// TextChunk is a streamed piece of assistant response text.
type TextChunk struct{ Text string }

// ThinkingChunk is a streamed piece of model reasoning, rendered separately
// from the response.
type ThinkingChunk struct{ Text string }

// ToolCallEvent announces a dispatched tool call.
type ToolCallEvent struct {
	Name        string
	ArgsSummary string
}

// ToolResultEvent carries the one-line display summary of a tool result.
type ToolResultEvent struct{ Summary string }

// CacheHitEvent fires when a read is served from the session cache.
type CacheHitEvent struct{ Path string }

// LoopWarning fires when a repeated tool call was intercepted.
type LoopWarning struct{ ToolName string }

// BudgetWarning fires when the budget engine compressed the history.
type BudgetWarning struct{}

// ContextUpdate reports estimated context usage after enforcement.
type ContextUpdate struct {
	Used       int
	Total      int
	Compressed bool
}

// HookOutput carries the result of one lifecycle hook command.
type HookOutput struct {
	Event    string
	Command  string
	Output   string
	ExitCode int
}

// ToolBudgetHit fires when the hard tool-call cap stops the loop.
type ToolBudgetHit struct{ Limit int }

// Done closes a run with its accumulated statistics.
type Done struct{ Stats Stats }

// Stats are the accumulated counters for one run.
type Stats struct {
	InputTokens     int
	OutputTokens    int
	ModelCalls      int
	ToolCalls       int
	CompressedCount int
	DurationSecs    int
}

func (TextChunk) isEvent()       {}
func (ThinkingChunk) isEvent()   {}
func (ToolCallEvent) isEvent()   {}
func (ToolResultEvent) isEvent() {}
func (CacheHitEvent) isEvent()   {}
func (LoopWarning) isEvent()     {}
func (BudgetWarning) isEvent()   {}
func (ContextUpdate) isEvent()   {}
func (HookOutput) isEvent()      {}
func (ToolBudgetHit) isEvent()   {}
func (Done) isEvent()            {}
