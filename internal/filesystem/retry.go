package filesystem

import (
	"errors"
	"os"
	"syscall"
	"time"

	"imgcat/internal/logging"
)

// RetryConfig bounds how long an operation keeps retrying ESTALE.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// VolumeResolver overrides the package-level resolver when set.
	VolumeResolver *VolumeResolver
}

// DefaultRetryConfig retries three times, starting at 50ms and doubling up
// to 500ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
	}
}

func (c *RetryConfig) resolveVolume(path string) string {
	if c.VolumeResolver != nil {
		return c.VolumeResolver.Resolve(path)
	}
	return defaultResolver.Resolve(path)
}

// delay returns the wait before retry n (0-based).
func (c *RetryConfig) delay(n int) time.Duration {
	d := c.InitialBackoff
	for i := 0; i < n && d < c.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, c.MaxBackoff)
}

// isStaleError reports whether err wraps ESTALE, which NFS and removable
// media return when a handle is invalidated under a reader.
func isStaleError(err error) bool {
	var errno syscall.Errno
	return errors.As(err, &errno) && errno == syscall.ESTALE
}

// withRetry calls fn until it succeeds, fails with anything but ESTALE, or
// MaxRetries retries are spent. op labels metrics and log lines.
func withRetry[T any](op, path string, config RetryConfig, fn func() (T, error)) (T, error) {
	start := time.Now()
	volume := config.resolveVolume(path)
	obs := observe()

	v, err := fn()
	retries := 0
	for ; isStaleError(err) && retries < config.MaxRetries; retries++ {
		obs.ObserveStaleError(op, volume)
		obs.ObserveRetryAttempt(op, volume)
		wait := config.delay(retries)
		logging.Debug("%s: stale handle for %s, retry %d/%d in %v", op, path, retries+1, config.MaxRetries, wait)
		time.Sleep(wait)
		v, err = fn()
	}

	switch {
	case err == nil && retries > 0:
		logging.Info("%s succeeded on retry %d for %s", op, retries, path)
		obs.ObserveRetrySuccess(op, volume)
	case isStaleError(err):
		obs.ObserveStaleError(op, volume)
		obs.ObserveRetryFailure(op, volume)
		logging.Warn("%s failed after %d retries for %s: %v", op, retries, path, err)
	}

	elapsed := time.Since(start).Seconds()
	obs.ObserveRetryDuration(op, volume, elapsed)
	obs.ObserveOperation(volume, op, elapsed, err)
	return v, err
}

// StatWithRetry is os.Stat with ESTALE retries.
func StatWithRetry(path string, config RetryConfig) (os.FileInfo, error) {
	return withRetry("stat", path, config, func() (os.FileInfo, error) {
		return os.Stat(path)
	})
}

// OpenWithRetry is os.Open with ESTALE retries.
func OpenWithRetry(path string, config RetryConfig) (*os.File, error) {
	return withRetry("open", path, config, func() (*os.File, error) {
		return os.Open(path)
	})
}

// ReadDirWithRetry is os.ReadDir with ESTALE retries.
func ReadDirWithRetry(path string, config RetryConfig) ([]os.DirEntry, error) {
	return withRetry("readdir", path, config, func() ([]os.DirEntry, error) {
		return os.ReadDir(path)
	})
}
