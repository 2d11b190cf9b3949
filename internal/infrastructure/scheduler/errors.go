package scheduler

import "errors"

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrSchedulerNotRunning is returned by RunNow before Start
	ErrSchedulerNotRunning = errors.New("scheduler is not running")
)
