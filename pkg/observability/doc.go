/*
Package observability provides Prometheus instrumentation for the patch engine.

Metrics cover sandbox runs, reconciliation writes, patch transitions, held
canvas locks and agent turns. A nil *Metrics is valid everywhere and records
nothing, so components can be instrumented unconditionally.
*/
package observability
