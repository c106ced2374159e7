// Package gitctx is the git collaborator: status snapshots for the system
// preamble, checkpoints before tasks, and optional auto-commits after them.
// Everything degrades to a no-op outside a git repository.
package gitctx

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// InRepo reports whether the working directory is inside a git work tree.
func InRepo(ctx context.Context) bool {
	out, err := exec.CommandContext(ctx, "git", "rev-parse", "--is-inside-work-tree").Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

// Status returns a compact `git status` snapshot for prompt injection, or ""
// outside a repository or on a clean tree.
func Status(ctx context.Context) string {
	if !InRepo(ctx) {
		return ""
	}
	out, err := exec.CommandContext(ctx, "git", "status", "--short", "--branch").Output()
	if err != nil {
		return ""
	}
	text := strings.TrimRight(string(out), "\n")
	lines := strings.Split(text, "\n")
	if len(lines) <= 1 {
		// Only the "## branch" header: the tree is clean.
		return ""
	}
	if len(lines) > 30 {
		text = strings.Join(lines[:30], "\n") + fmt.Sprintf("\n... (+%d more)", len(lines)-30)
	}
	return text
}

// Checkpoint records the pre-task HEAD hash so a botched task can be
// inspected against it. Read-only: it never touches refs. Returns "" outside
// a repository.
func Checkpoint(ctx context.Context) string {
	if !InRepo(ctx) {
		return ""
	}
	out, err := exec.CommandContext(ctx, "git", "rev-parse", "HEAD").Output()
	if err != nil {
		slog.Debug("git checkpoint skipped", "error", err)
		return ""
	}
	return strings.TrimSpace(string(out))
}

// AutoCommit stages and commits all changes with the configured prefix.
// Returns the short commit hash, or "" when there was nothing to commit.
func AutoCommit(ctx context.Context, prefix, taskPreview string) (string, error) {
	if !InRepo(ctx) {
		return "", nil
	}
	status, err := exec.CommandContext(ctx, "git", "status", "--porcelain").Output()
	if err != nil {
		return "", fmt.Errorf("checking status: %w", err)
	}
	if strings.TrimSpace(string(status)) == "" {
		return "", nil
	}
	if out, err := exec.CommandContext(ctx, "git", "add", "-A").CombinedOutput(); err != nil {
		return "", fmt.Errorf("staging changes: %s: %w", strings.TrimSpace(string(out)), err)
	}
	// --no-verify: auto-commits must never be blocked by lint or formatting
	// hooks.
	msg := prefix + taskPreview
	if out, err := exec.CommandContext(ctx, "git", "commit", "--no-verify", "-m", msg).CombinedOutput(); err != nil {
		return "", fmt.Errorf("committing: %s: %w", strings.TrimSpace(string(out)), err)
	}
	hash, err := exec.CommandContext(ctx, "git", "rev-parse", "--short", "HEAD").Output()
	if err != nil {
		return "", nil
	}
	return strings.TrimSpace(string(hash)), nil
}
