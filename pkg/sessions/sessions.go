// Package sessions persists conversation history as JSONL under the user's
// data directory, one JSON record per line: a header line followed by one
// line per message. The session browser UI reads the same files back.
package sessions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nstogner/pare/pkg/domain"
)

// Header is the first line of a session file.
type Header struct {
	Type      string    `json:"type"` // always "session"
	ID        string    `json:"id"`
	Project   string    `json:"project"`
	Profile   string    `json:"profile"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// Record is one subsequent line: a single message.
type Record struct {
	Type      string         `json:"type"` // always "message"
	Timestamp time.Time      `json:"timestamp"`
	Message   domain.Message `json:"message"`
}

// Dir returns the sessions directory under the user data dir.
func Dir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			base = "."
		} else {
			base = filepath.Join(home, ".local", "share")
		}
	}
	return filepath.Join(base, "pare", "sessions")
}

// Session is an open, append-only session file.
type Session struct {
	ID   string
	Path string
	file *os.File
	enc  *json.Encoder
}

// New creates a session file named <timestamp>_<project>.jsonl and writes
// the header line.
func New(project, profile, model string) (*Session, error) {
	dir := Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating sessions dir: %w", err)
	}

	now := time.Now()
	name := fmt.Sprintf("%s_%s.jsonl", now.Format("20060102-150405"), sanitize(project))
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating session file: %w", err)
	}

	s := &Session{
		ID:   uuid.New().String(),
		Path: path,
		file: f,
		enc:  json.NewEncoder(f),
	}
	if err := s.enc.Encode(Header{
		Type:      "session",
		ID:        s.ID,
		Project:   project,
		Profile:   profile,
		Model:     model,
		CreatedAt: now,
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing session header: %w", err)
	}
	return s, nil
}

// Append writes one message record.
func (s *Session) Append(msg domain.Message) error {
	return s.enc.Encode(Record{
		Type:      "message",
		Timestamp: time.Now().UTC(),
		Message:   msg,
	})
}

// AppendAll writes a batch of messages.
func (s *Session) AppendAll(msgs []domain.Message) error {
	for _, m := range msgs {
		if err := s.Append(m); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes the file.
func (s *Session) Close() error {
	return s.file.Close()
}

// Info summarizes one stored session for the browser.
type Info struct {
	Header       Header
	Path         string
	MessageCount int
	Modified     time.Time
}

// List enumerates stored sessions, newest first.
func List() ([]Info, error) {
	entries, err := os.ReadDir(Dir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading sessions dir: %w", err)
	}

	var out []Info
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		path := filepath.Join(Dir(), e.Name())
		info, err := readInfo(path)
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].Header.CreatedAt.After(out[b].Header.CreatedAt)
	})
	return out, nil
}

// Read loads every message from a stored session.
func Read(path string) (Header, []domain.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("opening session: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var header Header
	var msgs []domain.Message
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if first {
			first = false
			if err := json.Unmarshal(line, &header); err != nil {
				return Header{}, nil, fmt.Errorf("parsing session header: %w", err)
			}
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		msgs = append(msgs, rec.Message)
	}
	return header, msgs, scanner.Err()
}

func readInfo(path string) (Info, error) {
	header, msgs, err := Read(path)
	if err != nil {
		return Info{}, err
	}
	stat, err := os.Stat(path)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Header:       header,
		Path:         path,
		MessageCount: len(msgs),
		Modified:     stat.ModTime(),
	}, nil
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "project"
	}
	return b.String()
}
