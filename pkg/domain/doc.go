/*
Package domain contains the core domain models of the Easel patch engine.

It defines the entities of a canvas graph, the patch lifecycle and the error
taxonomy shared by every adapter. This package is kept pure and free of I/O
and persistence, following Hexagonal Architecture principles.

# Key Entities

  - Canvas: the root aggregate a user edits. Owns Nodes.
  - Node: a typed unit of work instantiated from a Template.
  - Handle: a typed Input or Output port owned by a Node.
  - Edge: a directed connection between an Output and an Input handle.
  - Patch: a reviewable proposal produced by an agent session.
  - AgentSession: the append-only event log of one conversation.

Node configuration is modelled as a tagged union keyed by NodeType. See
NodeConfig and DecodeConfig.
*/
package domain
