// Package patch manages the lifecycle of agent-proposed canvas changes.
//
// A patch moves PROPOSED -> PREVIEWING -> ACCEPTED | REJECTED | EXPIRED.
// Only ACCEPTED writes to the graph, through canvas.Service.Commit as the
// session holding the canvas lock. A canvas has at most one open patch: a
// new proposal expires the previous one. Every terminal transition releases
// the agent session lock and is appended to the session's event log, and the
// payload is kept so history can re-render what was proposed.
package patch
