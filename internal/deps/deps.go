// Package deps inspects the optional external tools the organizer shells out
// to. Missing tools degrade features rather than block startup, so the daemon
// only reports availability; it never refuses to run.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"listenarr/internal/config"
)

// Requirement names one external binary and the feature that needs it.
type Requirement struct {
	Name     string
	Command  string
	Feature  string
	Required bool
}

// Status reports the availability of one requirement.
type Status struct {
	Requirement
	Available bool
	Path      string
	Detail    string
}

// ForConfig derives the tool requirements implied by the organizer settings.
// Only features that are switched on contribute requirements.
func ForConfig(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	var requirements []Requirement
	if cfg.Organizer.MergeChapters {
		requirements = append(requirements, Requirement{
			Name:    "FFmpeg",
			Command: "ffmpeg",
			Feature: "chapter merging",
		})
	}
	if cfg.Organizer.TagFiles && strings.TrimSpace(cfg.Organizer.TaggingTool) != "" {
		requirements = append(requirements, Requirement{
			Name:    "Tagging tool",
			Command: cfg.Organizer.TaggingTool,
			Feature: "metadata tagging",
		})
	}
	return requirements
}

// Check resolves each requirement's binary on PATH.
func Check(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		status := Status{Requirement: req}
		command := strings.TrimSpace(req.Command)
		if command == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		path, err := exec.LookPath(command)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found on PATH", command)
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Path = path
		results = append(results, status)
	}
	return results
}
