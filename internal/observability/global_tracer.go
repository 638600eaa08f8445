package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var globalTracer trace.Tracer

// InitGlobalTracer initializes the global tracer for the application.
func InitGlobalTracer() {
	globalTracer = otel.Tracer("prep-engine")
}

// GetGlobalTracer returns the global tracer instance for the application.
func GetGlobalTracer() trace.Tracer {
	if globalTracer == nil {
		// Fallback to default tracer if not initialized
		globalTracer = otel.Tracer("prep-engine")
	}
	return globalTracer
}

// TraceFunction starts a new span with a descriptive name for the given service and function.
func TraceFunction(ctx context.Context, serviceName, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := GetGlobalTracer()
	spanName := fmt.Sprintf("%s.%s", serviceName, functionName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attributes...))
}

// TraceGradeFunction starts a new span for a grade service function.
func TraceGradeFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "grade", functionName, attributes...)
}

// TraceSelectorFunction starts a new span for a question selector function.
func TraceSelectorFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "selector", functionName, attributes...)
}

// TraceSessionFunction starts a new span for a session generator function.
func TraceSessionFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "session", functionName, attributes...)
}

// TraceMasteryFunction starts a new span for a mastery accessor function.
func TraceMasteryFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "mastery", functionName, attributes...)
}

// TraceWorkerFunction starts a new span for a worker function.
func TraceWorkerFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "worker", functionName, attributes...)
}

// TraceDatabaseFunction starts a new span for a database function.
func TraceDatabaseFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "database", functionName, attributes...)
}

// TraceHandlerFunction starts a new span for a handler function.
func TraceHandlerFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "handler", functionName, attributes...)
}

// AttributeStudentID returns a tracing attribute for a student ID.
func AttributeStudentID(id int) attribute.KeyValue {
	return attribute.Int("student.id", id)
}

// AttributeSubjectID returns a tracing attribute for a subject ID.
func AttributeSubjectID(id int) attribute.KeyValue {
	return attribute.Int("subject.id", id)
}

// AttributeQuestionID returns a tracing attribute for a question ID.
func AttributeQuestionID(id int) attribute.KeyValue {
	return attribute.Int("question.id", id)
}

// AttributeGrade returns a tracing attribute for a computed grade.
func AttributeGrade(grade string) attribute.KeyValue {
	return attribute.String("grade", grade)
}

// AttributeSource returns a tracing attribute for a question source.
func AttributeSource(source string) attribute.KeyValue {
	return attribute.String("source", source)
}

// AttributeCount returns a tracing attribute for a requested count.
func AttributeCount(count int) attribute.KeyValue {
	return attribute.Int("count", count)
}

// AttributeStream returns a tracing attribute for an exam stream.
func AttributeStream(stream string) attribute.KeyValue {
	return attribute.String("stream", stream)
}
