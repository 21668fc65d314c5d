package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "queue.capacity")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidLogFormats returns the list of valid log formats
func ValidLogFormats() []string {
	return []string{"console", "json"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	positive := func(field string, v int) {
		if v <= 0 {
			errs = append(errs, ValidationError{Field: field, Value: v, Message: "must be positive"})
		}
	}

	positive("workers", c.Workers)

	positive("queue.capacity", c.Queue.Capacity)
	if c.Queue.MaxCapacity < c.Queue.Capacity {
		errs = append(errs, ValidationError{
			Field:   "queue.max_capacity",
			Value:   c.Queue.MaxCapacity,
			Message: fmt.Sprintf("must be at least queue.capacity (%d)", c.Queue.Capacity),
		})
	}
	if c.Queue.SpinCount < 0 {
		errs = append(errs, ValidationError{Field: "queue.spin_count", Value: c.Queue.SpinCount, Message: "must not be negative"})
	}
	if c.Queue.MaxIdleWait <= 0 {
		errs = append(errs, ValidationError{Field: "queue.max_idle_wait", Value: c.Queue.MaxIdleWait, Message: "must be positive"})
	}

	positive("stress.tasks", c.Stress.Tasks)
	positive("stress.iterations", c.Stress.Iterations)
	positive("stress.spawn_every", c.Stress.SpawnEvery)
	positive("stress.batch_size", c.Stress.BatchSize)
	positive("stress.enqueue_chunk", c.Stress.EnqueueChunk)

	positive("pipeline.frames", c.Pipeline.Frames)
	positive("pipeline.substeps", c.Pipeline.Substeps)
	if c.Pipeline.Bodies < 0 {
		errs = append(errs, ValidationError{Field: "pipeline.bodies", Value: c.Pipeline.Bodies, Message: "must not be negative"})
	}
	if c.Pipeline.FrameDuration <= 0 {
		errs = append(errs, ValidationError{Field: "pipeline.frame_duration", Value: c.Pipeline.FrameDuration, Message: "must be positive"})
	}

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Log.Level)) {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Value:   c.Log.Level,
			Message: fmt.Sprintf("must be one of %v", ValidLogLevels()),
		})
	}
	if !slices.Contains(ValidLogFormats(), strings.ToLower(c.Log.Format)) {
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Value:   c.Log.Format,
			Message: fmt.Sprintf("must be one of %v", ValidLogFormats()),
		})
	}

	return errs
}
