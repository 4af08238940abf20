package pipeline

import (
	"context"

	"github.com/nugget/frontdesk/internal/tools"
)

// Control tool names.
const (
	ToolPutOnHold = "put_on_hold"
	ToolEndCall   = "end_call"
)

// buildTools returns the conversation's registry: the shared domain
// tools plus the control tools bound to this conversation.
func (c *Conversation) buildTools() *tools.Registry {
	r := tools.NewRegistry()
	for _, name := range c.p.deps.Tools.Names() {
		if t, ok := c.p.deps.Tools.Get(name); ok {
			r.Register(t)
		}
	}

	r.Register(&tools.Func{
		ToolName: ToolPutOnHold,
		Desc: "Put the conversation on hold when the guest asks you to wait, hold on, " +
			"or give them a moment. You will stay silent until they say they are back.",
		Handler: func(ctx context.Context, _ map[string]any) (tools.Result, error) {
			c.RequestHold(ctx)
			return tools.Result{
				Payload:          map[string]any{"status": "on_hold"},
				SuppressFollowup: true,
			}, nil
		},
	})
	r.Register(&tools.Func{
		ToolName: ToolEndCall,
		Desc: "End the call when the guest says goodbye or indicates they are done. " +
			"A farewell is spoken for you.",
		Handler: func(ctx context.Context, _ map[string]any) (tools.Result, error) {
			c.RequestEnd(ctx)
			return tools.Result{
				Payload:          map[string]any{"status": "call_ended"},
				SuppressFollowup: true,
			}, nil
		},
	})
	return r
}
