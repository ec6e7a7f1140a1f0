/*
Package ports defines the driven ports (interfaces) for the Easel patch engine.

These interfaces decouple the core logic from external implementations, allowing
the engine to work with various storage backends, lock coordinators and
program generators.

# Key Interfaces

  - GraphStore: persists canvases and applies reconciled change sets atomically.
  - PatchStore: persists patches and their lifecycle state.
  - SessionStore: persists the append-only agent session log.
  - TemplateCatalog: resolves node templates.
  - CanvasLocker: provides cross-replica agent session locks.
  - ProgramGenerator: produces transformation programs (typically an LLM).

Reusable contract suites (RunGraphStoreContract and friends) verify that an
adapter honours these interfaces.
*/
package ports
