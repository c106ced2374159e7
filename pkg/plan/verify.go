package plan

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// RunVerification checks a completed step against its declared verification.
// The pre-step snapshot backs the FileChanged check so the result does not
// depend on filesystem timestamps.
func RunVerification(ctx context.Context, root string, v Verification, before Snapshot) error {
	switch v.Kind {
	case VerifyNone, "":
		return nil

	case VerifyFileChanged:
		after := TakeSnapshot(root)
		if prev, ok := before[v.Path]; ok {
			if cur, exists := after[v.Path]; exists && cur != prev {
				return nil
			}
		} else if _, exists := after[v.Path]; exists {
			// File did not exist before the step — creation counts.
			return nil
		}
		// Fall back to a direct read for files outside the snapshot set.
		if _, err := os.Stat(filepath.Join(root, v.Path)); err != nil {
			return fmt.Errorf("verify: %s does not exist", v.Path)
		}
		if _, tracked := before[v.Path]; !tracked {
			return nil
		}
		return fmt.Errorf("verify: %s was not modified by this step", v.Path)

	case VerifyPatternAbsent:
		re, err := regexp.Compile(v.Pattern)
		if err != nil {
			return fmt.Errorf("verify: bad pattern %q: %w", v.Pattern, err)
		}
		paths := v.Paths
		if len(paths) == 0 && v.Path != "" {
			paths = []string{v.Path}
		}
		for _, p := range paths {
			data, err := os.ReadFile(filepath.Join(root, p))
			if err != nil {
				return fmt.Errorf("verify: cannot read %s: %w", p, err)
			}
			if loc := re.FindAllIndex(data, -1); len(loc) > 0 {
				return fmt.Errorf("verify: pattern %q still found in %s (%d occurrences)", v.Pattern, p, len(loc))
			}
		}
		return nil

	case VerifyCommand:
		return runCheck(ctx, root, v.Command)

	case VerifyBuild:
		cmd := detectBuildCommand(root)
		if cmd == "" {
			// No recognizable build system — nothing to check.
			return nil
		}
		return runCheck(ctx, root, cmd)

	default:
		return fmt.Errorf("verify: unknown kind %q", v.Kind)
	}
}

func runCheck(ctx context.Context, root, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = root
	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	text := strings.TrimSpace(string(out))
	first := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		first = text[:i]
	}
	if first == "" {
		first = "(no output)"
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return fmt.Errorf("verify: '%s' failed (exit %d): %s", command, ee.ExitCode(), first)
	}
	return fmt.Errorf("verify: failed to run '%s': %w", command, err)
}

func detectBuildCommand(root string) string {
	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(root, name))
		return err == nil
	}
	switch {
	case exists("Cargo.toml"):
		return "cargo build"
	case exists("go.mod"):
		return "go build ./..."
	case exists("package.json"):
		return "npm run build"
	}
	return ""
}
