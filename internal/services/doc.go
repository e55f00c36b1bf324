// Package services provides the shared error taxonomy and context annotations
// used by the fulfillment pipeline stages. Errors are tagged with sentinel
// markers so the job queue's failure handler can classify them in one place.
package services
