package budget

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Attachment is a file pinned to every model call's preamble. Attachments
// are excluded from budget eviction; when the preamble sub-budget overflows,
// the least-recently-attached ones are truncated first.
type Attachment struct {
	Path       string
	Content    string
	AttachedAt time.Time
}

// Preamble is the compact context block assembled in front of the task:
// attached files, project conventions, prior-step carry-forward summaries,
// and an optional git status snapshot.
type Preamble struct {
	Conventions string
	Attachments []Attachment
	// Summaries are carry-forward lines from completed plan steps, oldest
	// first.
	Summaries []string
	GitStatus string
}

// Empty reports whether the preamble would render to nothing.
func (p *Preamble) Empty() bool {
	return p.Conventions == "" && len(p.Attachments) == 0 &&
		len(p.Summaries) == 0 && p.GitStatus == ""
}

// Render assembles the preamble text, keeping it under maxTokens. When over
// budget, the least-recently-attached files are truncated first, then the
// oldest summaries are dropped. Conventions and git status are cheap and
// always kept whole.
func (p *Preamble) Render(maxTokens int) string {
	attachments := make([]Attachment, len(p.Attachments))
	copy(attachments, p.Attachments)
	summaries := make([]string, len(p.Summaries))
	copy(summaries, p.Summaries)

	for {
		out := p.render(attachments, summaries)
		if EstimateTokens(out) <= maxTokens {
			return out
		}
		if truncateOldestAttachment(attachments) {
			continue
		}
		if len(summaries) > 0 {
			summaries = summaries[1:]
			continue
		}
		return out
	}
}

func (p *Preamble) render(attachments []Attachment, summaries []string) string {
	var b strings.Builder
	if p.Conventions != "" {
		b.WriteString("# Project conventions\n\n")
		b.WriteString(strings.TrimSpace(p.Conventions))
		b.WriteString("\n\n")
	}
	if p.GitStatus != "" {
		b.WriteString("# Git status\n\n")
		b.WriteString(strings.TrimSpace(p.GitStatus))
		b.WriteString("\n\n")
	}
	if len(summaries) > 0 {
		b.WriteString("# Completed steps so far\n")
		for i, s := range summaries {
			fmt.Fprintf(&b, "Step %d: %s\n", i+1, s)
		}
		b.WriteString("\nThe above changes are already in place. Do not redo them.\n\n")
	}
	if len(attachments) > 0 {
		b.WriteString("The following files have been attached for context:\n\n")
		for _, a := range attachments {
			fmt.Fprintf(&b, "[%s]\n%s\n\n", a.Path, a.Content)
		}
	}
	return b.String()
}

// truncateOldestAttachment halves the least-recently-attached file that still
// has content to give. Returns false when nothing is left to truncate.
func truncateOldestAttachment(attachments []Attachment) bool {
	if len(attachments) == 0 {
		return false
	}
	idxs := make([]int, len(attachments))
	for i := range idxs {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(a, b int) bool {
		return attachments[idxs[a]].AttachedAt.Before(attachments[idxs[b]].AttachedAt)
	})
	for _, i := range idxs {
		a := &attachments[i]
		lines := strings.Split(a.Content, "\n")
		if len(lines) <= 8 {
			continue
		}
		keep := len(lines) / 2
		a.Content = strings.Join(lines[:keep], "\n") +
			fmt.Sprintf("\n[... truncated %d lines to fit the context budget]", len(lines)-keep)
		return true
	}
	return false
}
