// Package lock provides the reentrant group lock shared by every field of a
// gutex group.
//
// A Reentrant lock is owned by a goroutine. The owner may acquire it again
// without blocking, and the underlying mutex is released only when every
// acquisition has been matched by a release. Any other goroutine blocks on the
// mutex as with an ordinary sync.Mutex. Contended acquisitions are counted in
// the metrics package and can optionally be traced with OpenTelemetry.
package lock
