/*
Package dsl provides a fluent builder for canvas graphs.

Nodes are instantiated from catalog templates, so every built node carries
its template handles and default config. Edges are wired between handles by
data type, or by template port ID when the choice is ambiguous. The result
is a complete domain.GraphPayload ready to commit or to seed a sandbox run.

Example usage:

	b := dsl.New(templates.MustBuiltin())

	b.Add("prompt", "text").Text("A lighthouse at dusk").
		To("llm")
	b.Add("llm", "llm").Set("model", "gpt-4o").
		To("image")
	b.Add("image", "image-gen")

	payload, err := b.Build()
	if err != nil {
		log.Fatal(err)
	}
	res, err := canvases.Commit(ctx, canvasID, canvas.CommitRequest{Payload: payload})
*/
package dsl
