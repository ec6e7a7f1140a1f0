/*
Package easel is a patch engine for canvas node graphs edited by AI agents.

A canvas is a graph of typed nodes (Text, LLM, ImageGen, ...) joined by
edges between their handles. Agents do not write to a canvas directly: they
produce a short transformation program that receives the current graph and
returns the whole graph as it should be. The program runs in a sandbox, its
output is validated and reconciled against the persisted graph, and the
result is proposed as a patch that a human previews, accepts or rejects.
While a session has a patch open the canvas is locked to it.

# Architecture

The core packages are independent of transport and storage:

  - pkg/domain: graph entities, patches, sessions and errors.
  - pkg/schema: validation of untyped program output.
  - pkg/reconcile: temporary id remapping and change set planning.
  - pkg/sandbox: program execution with time, output and call limits.
  - pkg/canvas, pkg/patch, pkg/agent: the services behind the adapters.

Adapters live under pkg/adapters (http, mcp, memory, sqlite, redis, openai).

# Usage

	app, err := easel.New()
	if err != nil {
		log.Fatal(err)
	}
	defer app.Close()

	ctx := context.Background()
	c, _ := app.Canvases.Create(ctx, "Board", "")
	p, err := app.Agent.Submit(ctx, c.ID, "session-1", `
		nodes.push({id: generateId(), type: "Text", templateId: "text",
			position: {x: 0, y: 0}, config: {text: "a cat"}});
		return {nodes: nodes, edges: edges, handles: handles};`)
	if err != nil {
		log.Fatal(err)
	}
	_, res, err := app.Patches.Accept(ctx, p.ID)

Serve the HTTP API with App.Serve, or expose the same operations to agents
over the Model Context Protocol with App.MCPServer.
*/
package easel
