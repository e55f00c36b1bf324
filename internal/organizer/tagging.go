package organizer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"listenarr/internal/fileutil"
)

// taggingResult maps each source path to its tagged temporary copy. Files
// missing from the map fall back to their untagged originals.
type taggingResult struct {
	tagged   map[string]string
	errors   []string
	skipped  bool
	skipNote string
}

// tagFiles copies each audio file to a temp directory and tags the copy with
// the external tagging tool. Per-file failures are recorded but never block
// the remaining files; a missing tool skips tagging entirely.
func (o *Organizer) tagFiles(ctx context.Context, files []sourceFile, meta Metadata, tempDir string) taggingResult {
	result := taggingResult{tagged: make(map[string]string, len(files))}

	tool := o.cfg.TaggingTool
	if tool == "" {
		result.skipped = true
		result.skipNote = "tagging tool not configured"
		return result
	}
	toolPath, err := exec.LookPath(tool)
	if err != nil {
		result.skipped = true
		result.skipNote = fmt.Sprintf("tagging tool %q not available", tool)
		return result
	}

	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		result.errors = append(result.errors, fmt.Sprintf("create tagging directory: %v", err))
		return result
	}

	for _, file := range files {
		taggedPath := filepath.Join(tempDir, file.targetName)
		if err := fileutil.CopyFileAtomic(file.path, taggedPath); err != nil {
			result.errors = append(result.errors, fmt.Sprintf("stage %s for tagging: %v", file.targetName, err))
			continue
		}
		if err := o.runTaggingTool(ctx, toolPath, taggedPath, meta); err != nil {
			result.errors = append(result.errors, fmt.Sprintf("tag %s: %v", file.targetName, err))
			_ = os.Remove(taggedPath)
			continue
		}
		result.tagged[file.path] = taggedPath
	}
	return result
}

// runTaggingTool invokes tone-style tagging on one file.
func (o *Organizer) runTaggingTool(ctx context.Context, toolPath, file string, meta Metadata) error {
	args := []string{"tag", file, "--meta-title", meta.Title}
	if meta.Author != "" {
		args = append(args, "--meta-artist", meta.Author, "--meta-album-artist", meta.Author)
	}
	if meta.Series != "" {
		args = append(args, "--meta-movement-name", meta.Series)
		if meta.SeriesPart != "" {
			if part, err := strconv.Atoi(meta.SeriesPart); err == nil {
				args = append(args, "--meta-movement", strconv.Itoa(part))
			}
		}
	}
	if meta.Narrator != "" {
		args = append(args, "--meta-narrator", meta.Narrator)
	}

	cmd := exec.CommandContext(ctx, toolPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, truncateOutput(output))
	}
	return nil
}

func truncateOutput(output []byte) string {
	const limit = 512
	text := string(output)
	if len(text) > limit {
		return text[:limit] + "..."
	}
	return text
}
