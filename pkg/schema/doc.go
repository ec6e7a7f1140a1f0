// Package schema parses untyped graph payloads into domain entities.
//
// It is the single entity schema of the system: the HTTP boundary, the
// sandbox output validation and the MCP tools all go through ParsePayload,
// so a payload accepted by one entry point is accepted by all of them.
//
// Basic usage:
//
//	payload, err := schema.ParsePayload(raw, schema.Options{RequireAll: true})
//	if err != nil {
//	    var errs domain.ValidationErrors
//	    if errors.As(err, &errs) {
//	        // errs[i].Field is a path such as "nodes[2].position.x"
//	    }
//	}
//
// Structural rules are expressed as go-playground/validator tags on the wire
// types; per-type node config is decoded through the domain registry and
// validated with the tags declared on each config variant.
package schema
