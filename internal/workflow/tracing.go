// Tracing instrumentation for the supervisor loop.
package workflow

import (
	"context"

	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// startRunSpan opens the span covering one run or resume of a thread.
func (w *Workflow) startRunSpan(ctx context.Context, threadID string) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "workflow.run")
	span.SetAttributes(
		attribute.String("workflow.thread_id", threadID),
	)
	return ctx, span
}

// endRunSpan closes the run span with the terminal outcome.
func (w *Workflow) endRunSpan(span trace.Span, outcome string) {
	span.SetAttributes(attribute.String("workflow.outcome", outcome))
	span.End()
}

// runNode executes one worker under its own span.
func (w *Workflow) runNode(ctx context.Context, node string, fn func(context.Context)) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "node."+node)
	span.SetAttributes(attribute.String("node.name", node))
	defer span.End()
	fn(ctx)
}
