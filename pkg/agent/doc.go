/*
Package agent runs conversational agent turns against a canvas.

A turn takes the canvas lock for the session, asks a ports.ProgramGenerator
for a reply, runs the transformation program found in the reply inside the
sandbox, and proposes the result as a patch. Sandbox faults and invalid
graphs are turned into feedback for the next generation attempt until the
attempt budget runs out.

Progress is reported as a sequence of Frames:

	text_delta      streamed reply text
	attempt_failed  a program failed; the diagnostic is fed back
	patch_proposed  a patch reached PROPOSED
	message         the final assistant message
	error           the turn ended without a patch
	done            always last

The canvas lock is kept while the proposed patch is open and released at
the end of any turn that leaves no open patch behind.
*/
package agent
