package organizer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// mergeAudioParts concatenates ordered audio parts into one file with ffmpeg.
// The parts are already sorted by flattened name, which matches chapter
// ordering for the common CD-rip layouts.
func mergeAudioParts(ctx context.Context, files []sourceFile, output string) (string, error) {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return "", fmt.Errorf("ffmpeg not available: %w", err)
	}

	listPath := output + ".parts.txt"
	var list strings.Builder
	for _, file := range files {
		absolute, absErr := filepath.Abs(file.path)
		if absErr != nil {
			return "", fmt.Errorf("resolve part path: %w", absErr)
		}
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(absolute, "'", `'\''`))
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return "", fmt.Errorf("write concat list: %w", err)
	}
	defer func() { _ = os.Remove(listPath) }()

	cmd := exec.CommandContext(ctx, ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c:a", "aac", "-b:a", "64k",
		"-y", output,
	)
	combined, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg concat: %w: %s", err, truncateOutput(combined))
	}
	if _, err := os.Stat(output); err != nil {
		return "", fmt.Errorf("merged output missing: %w", err)
	}
	return output, nil
}
