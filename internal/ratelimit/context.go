package ratelimit

import "context"

type stageCtxKey struct{}

// WithStage tags the context with the pipeline stage its requests belong to.
// The governed HTTP client reads it back so producers never handle permits
// directly.
func WithStage(ctx context.Context, stage Stage) context.Context {
	return context.WithValue(ctx, stageCtxKey{}, stage)
}

// StageFromContext returns the stage the context was tagged with, defaulting
// to the post detail stage for untagged requests.
func StageFromContext(ctx context.Context) Stage {
	if stage, ok := ctx.Value(stageCtxKey{}).(Stage); ok {
		return stage
	}
	return StagePostDetail
}
