// Package canvas is the single write path for canvas graphs.
//
// Direct bulk updates and accepted agent patches both end in Service.Commit,
// which reconciles the proposal against the persisted graph and applies the
// resulting change set in one GraphStore transaction. Commits on the same
// canvas are serialized in-process, so a plan is never applied on top of a
// graph it was not computed from.
//
// While an agent session holds the canvas lock, direct edits from anyone
// other than the holder are refused with *domain.LockConflictError. The
// guard can be disabled with WithLocks(m, false), in which case a direct
// update may race the agent and the later commit wins.
package canvas
