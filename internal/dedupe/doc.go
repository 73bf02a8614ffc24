// Package dedupe provides a size-bounded TTL cache of recently seen keys,
// used to suppress repeated ephemeral signals within a configurable window.
package dedupe
