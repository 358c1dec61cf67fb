// Package memory provides the resource signals the fingerprint worker pool
// scales on: heap usage against a memory limit and host CPU utilisation.
//
// # Memory limit
//
// Decoding large images and running ONNX inference allocates heavily, both
// on the Go heap and in C. [ConfigureFromEnv] sets GOMEMLIMIT from the
// container limit so the collector works harder before the process is
// killed:
//
//   - GOMEMLIMIT: standard Go variable, takes precedence
//   - MEMORY_LIMIT: container limit ("2GiB", "512MB" or plain bytes)
//   - MEMORY_RATIO: share of MEMORY_LIMIT given to the heap (default 0.80)
//
// [ConfigureLimit] does the same for a limit read from the config file.
//
// # Monitoring
//
// [Monitor] samples heap allocation on an interval. Above the high water
// mark [Monitor.ShouldThrottle] reports true; above the critical mark the
// monitor pauses and [Monitor.WaitIfPaused] blocks until usage drops back
// under the high water mark.
//
//	monitor := memory.NewMonitor(memory.DefaultConfig())
//	monitor.Start()
//	defer monitor.Stop()
//
// # CPU
//
// [CPUSampler] reads /proc/stat through procfs and reports the busy
// fraction between samples. [Sampler] bundles both readings for the pool's
// autoscaler.
package memory
