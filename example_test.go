package easel_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/easel"
)

// ExampleNew proposes a patch from a program and accepts it.
func ExampleNew() {
	app, err := easel.New()
	if err != nil {
		log.Fatal(err)
	}
	defer app.Close()

	ctx := context.Background()
	c, err := app.Canvases.Create(ctx, "Board", "")
	if err != nil {
		log.Fatal(err)
	}

	p, err := app.Agent.Submit(ctx, c.ID, "session-1", addText)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(p.State, p.Summary.Nodes.Created)

	_, res, err := app.Patches.Accept(ctx, p.ID)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(len(res.Graph.Nodes), res.Graph.Nodes[0].Type)

	// Output:
	// PROPOSED 1
	// 1 Text
}
