// Package update implements --update: fetch the latest release binary,
// verify its checksum, and swap it in with a rename, rolling back on any
// failure.
package update

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"
)

// baseURL hosts release artifacts as
// <base>/latest/pare_<GOOS>_<GOARCH> plus a ".sha256" sidecar.
const baseURL = "https://github.com/nstogner/pare/releases/download"

var httpClient = &http.Client{Timeout: 5 * time.Minute}

// Run downloads the latest release for this platform, verifies the sha256
// checksum, and atomically replaces the current binary. The previous binary
// is kept as ".bak" until the swap succeeds.
func Run() error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating current binary: %w", err)
	}

	artifact := fmt.Sprintf("pare_%s_%s", runtime.GOOS, runtime.GOARCH)
	binURL := fmt.Sprintf("%s/latest/%s", baseURL, artifact)

	sum, err := fetchChecksum(binURL + ".sha256")
	if err != nil {
		return fmt.Errorf("fetching checksum: %w", err)
	}

	tmp := self + ".new"
	if err := download(binURL, tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("downloading release: %w", err)
	}

	actual, err := fileChecksum(tmp)
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if actual != sum {
		os.Remove(tmp)
		return fmt.Errorf("checksum mismatch: expected %s, got %s", sum, actual)
	}
	if err := os.Chmod(tmp, 0o755); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("marking binary executable: %w", err)
	}

	// Rename-swap with rollback: self → .bak, .new → self.
	backup := self + ".bak"
	if err := os.Rename(self, backup); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("backing up current binary: %w", err)
	}
	if err := os.Rename(tmp, self); err != nil {
		// Roll back so the install is never left without a binary.
		if rbErr := os.Rename(backup, self); rbErr != nil {
			return fmt.Errorf("swap failed (%v) and rollback failed: %w", err, rbErr)
		}
		os.Remove(tmp)
		return fmt.Errorf("installing new binary (rolled back): %w", err)
	}
	os.Remove(backup)
	return nil
}

func fetchChecksum(url string) (string, error) {
	resp, err := httpClient.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return "", err
	}
	// Accept "HEX" or "HEX  filename" formats.
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return "", fmt.Errorf("empty checksum file")
	}
	return strings.ToLower(fields[0]), nil
}

func download(url, dest string) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, resp.Body)
	return err
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
