// Package logging centralizes slog construction and the structured field
// vocabulary shared by the daemon, the job queue, and the stage processors.
package logging
