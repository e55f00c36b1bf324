// Package organizer moves downloaded audio into the library tree. The copy
// chain is layered: tagged copies are preferred, untagged originals are the
// fallback, and already-present targets are skipped so re-runs are idempotent.
// The operation succeeds when at least one audio file lands at its target,
// regardless of tagging or cover-art sub-failures.
package organizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"listenarr/internal/fileutil"
	"listenarr/internal/logging"
	"listenarr/internal/pathtmpl"
	"listenarr/internal/services"
)

// Config controls organizer behavior.
type Config struct {
	LibraryDir       string
	PathTemplate     string
	FilenameTemplate string
	MergeChapters    bool
	TagFiles         bool
	TaggingTool      string
	CoverMaxBytes    int64
	CoverTimeout     time.Duration
}

// Metadata is the item information templates and tagging draw from.
type Metadata struct {
	Title      string
	Author     string
	Series     string
	SeriesPart string
	Narrator   string
	Year       string
	ASIN       string
	CoverURL   string
}

func (m Metadata) templateVars() pathtmpl.Vars {
	return pathtmpl.Vars{
		"Title":      m.Title,
		"Author":     m.Author,
		"Series":     m.Series,
		"SeriesPart": m.SeriesPart,
		"Narrator":   m.Narrator,
		"Year":       m.Year,
		"ASIN":       m.ASIN,
	}
}

// Result reports what the organize operation accomplished.
type Result struct {
	Success         bool
	TargetPath      string
	AudioFiles      []string
	CoverArtFile    string
	FilesMovedCount int
	Errors          []string
}

// Organizer performs the organize operation.
type Organizer struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client
}

// New builds an organizer.
func New(cfg Config, logger *slog.Logger) *Organizer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Organizer{
		cfg:        cfg,
		logger:     logger.With(logging.String(logging.FieldComponent, "organizer")),
		httpClient: &http.Client{},
	}
}

// ErrNoAudioFiles indicates the source contained nothing to organize. This is
// retryable at the request level: downloads sometimes land after the first
// organize attempt fires.
var ErrNoAudioFiles = errors.New("no audio files found in source")

// Organize runs the full pipeline for one downloaded payload. A non-nil error
// means the operation could not proceed at all (bad template, missing
// source); partial failures are reported through the Result instead.
func (o *Organizer) Organize(ctx context.Context, source string, meta Metadata) (Result, error) {
	targetDir, err := o.resolveTarget(meta)
	if err != nil {
		return Result{}, err
	}

	found, err := discover(source)
	if err != nil {
		return Result{}, services.Wrap(services.ErrNotFound, "organize", "discover", "inspect download payload", err)
	}
	if len(found.audio) == 0 {
		return Result{}, services.Wrap(services.ErrNotFound, "organize", "discover", "download payload has no audio", ErrNoAudioFiles)
	}

	result := Result{TargetPath: targetDir}

	tempDir, err := os.MkdirTemp("", "listenarr-organize-*")
	if err != nil {
		return Result{}, fmt.Errorf("create working directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	files := found.audio
	if o.cfg.MergeChapters && len(files) > 1 {
		merged, mergeErrs := o.mergeChapters(ctx, files, meta, tempDir)
		result.Errors = append(result.Errors, mergeErrs...)
		if merged != nil {
			files = merged
		}
	}

	tagged := taggingResult{tagged: map[string]string{}}
	if o.cfg.TagFiles {
		tagged = o.tagFiles(ctx, files, meta, filepath.Join(tempDir, "tagged"))
		result.Errors = append(result.Errors, tagged.errors...)
		if tagged.skipped {
			o.logger.InfoContext(ctx, "metadata tagging skipped", logging.String("reason", tagged.skipNote))
		}
	}

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create target directory: %w", err)
	}

	o.copyAudioFiles(ctx, files, tagged.tagged, targetDir, &result)

	coverFile, coverErrs := o.placeCoverArt(ctx, found, meta, targetDir)
	result.CoverArtFile = coverFile
	result.Errors = append(result.Errors, coverErrs...)

	result.Success = len(result.AudioFiles) > 0
	if !result.Success {
		result.Errors = append(result.Errors, "no audio files were successfully copied")
	}

	o.logger.InfoContext(ctx, "organize finished",
		logging.Bool("success", result.Success),
		logging.String("target", targetDir),
		logging.Int("moved", result.FilesMovedCount),
		logging.Int("errors", len(result.Errors)))
	return result, nil
}

// resolveTarget renders the path template into an absolute library directory.
// Template problems are non-retryable configuration errors.
func (o *Organizer) resolveTarget(meta Metadata) (string, error) {
	rendered, err := pathtmpl.Render(o.cfg.PathTemplate, meta.templateVars())
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "organize", "resolve_target", "render path template", err)
	}
	if rendered == "" {
		return "", services.Wrap(services.ErrValidation, "organize", "resolve_target",
			"path template rendered to an empty path", nil)
	}
	return filepath.Join(o.cfg.LibraryDir, filepath.FromSlash(rendered)), nil
}

// copyAudioFiles runs the fallback chain for every file: tagged copy first,
// untagged original second, already-present targets skipped.
func (o *Organizer) copyAudioFiles(ctx context.Context, files []sourceFile, tagged map[string]string, targetDir string, result *Result) {
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("copy aborted: %v", err))
			return
		}
		target := filepath.Join(targetDir, file.targetName)

		if info, err := os.Stat(target); err == nil && info.Mode().IsRegular() {
			result.AudioFiles = append(result.AudioFiles, target)
			continue
		}

		copied := false
		if taggedPath, ok := tagged[file.path]; ok {
			if err := fileutil.CopyFileVerified(taggedPath, target); err == nil {
				copied = true
			} else {
				result.Errors = append(result.Errors,
					fmt.Sprintf("tagged copy failed for %s, used untagged: %v", file.targetName, err))
			}
		}
		if !copied {
			if err := fileutil.CopyFileVerified(file.path, target); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("copy %s: %v", file.targetName, err))
				continue
			}
		}
		result.AudioFiles = append(result.AudioFiles, target)
		result.FilesMovedCount++
	}
}

// mergeChapters joins multi-part audio into a single file when a merge tool
// is available. Any failure leaves the original per-file list in place;
// merging is an enhancement, never a precondition.
func (o *Organizer) mergeChapters(ctx context.Context, files []sourceFile, meta Metadata, tempDir string) ([]sourceFile, []string) {
	mergedName, err := o.mergedFilename(meta)
	if err != nil {
		return nil, []string{fmt.Sprintf("chapter merge skipped: %v", err)}
	}
	mergedPath, err := mergeAudioParts(ctx, files, filepath.Join(tempDir, mergedName))
	if err != nil {
		o.logger.WarnContext(ctx, "chapter merge failed, keeping per-file layout", logging.Error(err))
		return nil, []string{fmt.Sprintf("chapter merge failed: %v", err)}
	}
	return []sourceFile{{path: mergedPath, targetName: mergedName}}, nil
}

func (o *Organizer) mergedFilename(meta Metadata) (string, error) {
	template := o.cfg.FilenameTemplate
	if template == "" {
		template = "{Title}"
	}
	name, err := pathtmpl.RenderFilename(template, meta.templateVars())
	if err != nil {
		return "", err
	}
	if name == "" {
		name = "merged"
	}
	return name + ".m4b", nil
}
