/*
Package lock implements the per-canvas agent session lock.

At most one agent session holds a canvas at a time. A second session is
refused immediately with a *domain.LockConflictError naming the holder, never
queued. Observers subscribe per canvas and receive the current state first,
then every change.

With a ports.CanvasLocker configured (see pkg/adapters/redis) the grant is
also recorded in a shared store so replicas agree on the holder; subscriber
fan-out stays process-local.
*/
package lock
