package organizer

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var audioExtensions = map[string]struct{}{
	".m4b":  {},
	".m4a":  {},
	".mp3":  {},
	".flac": {},
	".ogg":  {},
	".opus": {},
	".aac":  {},
	".wma":  {},
}

var coverExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
}

// sourceFile is one discovered audio file with the name it will take in the
// target directory.
type sourceFile struct {
	path       string
	targetName string
}

// discovery is the outcome of walking the download payload.
type discovery struct {
	audio []sourceFile
	cover string
}

func isAudioFile(path string) bool {
	_, ok := audioExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

func isCoverFile(path string) bool {
	_, ok := coverExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// discover collects audio files and at most one cover image from the source.
// Files in sub-directories get the sub-path flattened into the target name so
// CD1/Track01.mp3 and CD2/Track01.mp3 stay distinct.
func discover(source string) (discovery, error) {
	info, err := os.Stat(source)
	if err != nil {
		return discovery{}, fmt.Errorf("stat source: %w", err)
	}

	if !info.IsDir() {
		if !isAudioFile(source) {
			return discovery{}, fmt.Errorf("source file %s is not a recognized audio format", filepath.Base(source))
		}
		return discovery{audio: []sourceFile{{path: source, targetName: filepath.Base(source)}}}, nil
	}

	var found discovery
	err = filepath.WalkDir(source, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() {
			return nil
		}
		switch {
		case isAudioFile(path):
			relative, relErr := filepath.Rel(source, path)
			if relErr != nil {
				relative = filepath.Base(path)
			}
			found.audio = append(found.audio, sourceFile{
				path:       path,
				targetName: flattenRelativePath(relative),
			})
		case isCoverFile(path) && found.cover == "":
			found.cover = path
		}
		return nil
	})
	if err != nil {
		return discovery{}, fmt.Errorf("walk source directory: %w", err)
	}

	sort.Slice(found.audio, func(i, j int) bool {
		return found.audio[i].targetName < found.audio[j].targetName
	})
	return found, nil
}

// flattenRelativePath turns "CD1/Track01.mp3" into "CD1-Track01.mp3".
func flattenRelativePath(relative string) string {
	flat := filepath.ToSlash(relative)
	return strings.ReplaceAll(flat, "/", "-")
}
