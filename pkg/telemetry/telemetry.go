// Package telemetry appends one JSONL record per completed task to
// .pare/telemetry.jsonl under the workspace. Records aggregate across
// sessions for the stats view.
package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TaskRecord is one line in telemetry.jsonl.
type TaskRecord struct {
	Timestamp int64  `json:"timestamp"`
	SessionID string `json:"session_id"`
	// Cwd is the project directory basename.
	Cwd string `json:"cwd"`
	// TaskPreview is the first 80 chars of the user message.
	TaskPreview     string  `json:"task_preview"`
	InputTokens     int     `json:"input_tokens"`
	OutputTokens    int     `json:"output_tokens"`
	ToolCalls       int     `json:"tool_calls"`
	CompressedCount int     `json:"compressed_count"`
	CompressionRate float64 `json:"compression_ratio"`
	DurationSecs    int     `json:"duration_secs"`
	Model           string  `json:"model"`
	Profile         string  `json:"profile"`
}

// Path is the workspace-relative telemetry file.
func Path(root string) string {
	return filepath.Join(root, ".pare", "telemetry.jsonl")
}

// Append writes one record. Best-effort by contract: telemetry must never
// fail a task, so callers ignore the returned error outside of tests.
func Append(root string, rec TaskRecord) error {
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().Unix()
	}
	if rec.ToolCalls > 0 {
		rec.CompressionRate = float64(rec.CompressedCount) / float64(rec.ToolCalls)
	}
	runes := []rune(rec.TaskPreview)
	if len(runes) > 80 {
		rec.TaskPreview = string(runes[:80])
	}

	dir := filepath.Dir(Path(root))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating telemetry dir: %w", err)
	}
	f, err := os.OpenFile(Path(root), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening telemetry: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(rec)
}

// Load reads all records back for the stats view.
func Load(root string) ([]TaskRecord, error) {
	f, err := os.Open(Path(root))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening telemetry: %w", err)
	}
	defer f.Close()

	var out []TaskRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec TaskRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}
