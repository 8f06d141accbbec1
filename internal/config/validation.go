package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// ValidationError reports one invalid configuration field.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors accumulates every field failure found by Validate,
// rather than stopping at the first one.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	messages := make([]string, len(e))
	for i, err := range e {
		messages[i] = err.Error()
	}
	return fmt.Sprintf("%d validation errors: %s", len(e), strings.Join(messages, "; "))
}

// Validate checks Config for self-consistent values beyond what viper's
// unmarshal already guarantees (types), returning every violation found
// rather than the first.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Workspace == "" {
		errs = append(errs, ValidationError{Field: "workspace", Value: c.Workspace, Message: "workspace is required"})
	} else if info, err := os.Stat(c.Workspace); err != nil || !info.IsDir() {
		errs = append(errs, ValidationError{Field: "workspace", Value: c.Workspace, Message: "workspace must be an existing directory"})
	}

	if c.FileLock.LockTimeoutMs <= 0 {
		errs = append(errs, ValidationError{Field: "file_lock.lock_timeout_ms", Value: c.FileLock.LockTimeoutMs, Message: "must be positive"})
	}
	if c.FileLock.MaxRetries < 0 {
		errs = append(errs, ValidationError{Field: "file_lock.max_retries", Value: c.FileLock.MaxRetries, Message: "must be non-negative"})
	}

	if c.Store.MaxBackups < 0 {
		errs = append(errs, ValidationError{Field: "atomic_store.max_backups", Value: c.Store.MaxBackups, Message: "must be non-negative"})
	}

	if c.Queue.MaxQueueSize <= 0 {
		errs = append(errs, ValidationError{Field: "queue.max_queue_size", Value: c.Queue.MaxQueueSize, Message: "must be positive"})
	}
	if c.Queue.MaxBatchSize <= 0 {
		errs = append(errs, ValidationError{Field: "queue.max_batch_size", Value: c.Queue.MaxBatchSize, Message: "must be positive"})
	}
	if c.Queue.ProcessingIntervalMs <= 0 {
		errs = append(errs, ValidationError{Field: "queue.processing_interval_ms", Value: c.Queue.ProcessingIntervalMs, Message: "must be positive"})
	}

	if c.Retry.BaseDelayMs <= 0 {
		errs = append(errs, ValidationError{Field: "retry.base_delay_ms", Value: c.Retry.BaseDelayMs, Message: "must be positive"})
	}
	if c.Retry.MaxDelayMs < c.Retry.BaseDelayMs {
		errs = append(errs, ValidationError{Field: "retry.max_delay_ms", Value: c.Retry.MaxDelayMs, Message: "must be >= base_delay_ms"})
	}

	if c.Conflict.DuplicateSimilarityThreshold < 0 || c.Conflict.DuplicateSimilarityThreshold > 1 {
		errs = append(errs, ValidationError{Field: "conflict.duplicate_similarity_threshold", Value: c.Conflict.DuplicateSimilarityThreshold, Message: "must be between 0 and 1"})
	}
	if c.Conflict.ConcurrentModificationWindowS <= 0 {
		errs = append(errs, ValidationError{Field: "conflict.concurrent_modification_window_seconds", Value: c.Conflict.ConcurrentModificationWindowS, Message: "must be positive"})
	}
	if c.Conflict.OutdatedOperationWindowS <= 0 {
		errs = append(errs, ValidationError{Field: "conflict.outdated_operation_window_seconds", Value: c.Conflict.OutdatedOperationWindowS, Message: "must be positive"})
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{Field: "logging.level", Value: c.Logging.Level, Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", "))})
	}

	if c.Observer.Enabled && !isValidListenAddress(c.Observer.Listen) {
		errs = append(errs, ValidationError{Field: "observer.listen", Value: c.Observer.Listen, Message: "invalid listen address"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func isValidListenAddress(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host != "" && net.ParseIP(host) == nil && host != "localhost" {
		return false
	}
	portNum, err := strconv.Atoi(port)
	return err == nil && portNum >= 0 && portNum <= 65535
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
