// Package scheduler runs one recurring task per name on top of robfig/cron.
//
// Tasks are keyed by name (one per subscriber). The scheduler guarantees:
//   - Schedule replaces: the previous task is stopped and its in-flight
//     tick awaited before the new one is registered
//   - ticks of the same name never overlap; a tick that comes due while
//     one is still running is skipped, not queued
//   - a failing or panicking tick never stops later ticks
//   - nothing fires for a task after Cancel/Remove returns
package scheduler
