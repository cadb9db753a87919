package aggregate

import "context"

type ctxKey int

const (
	metaCtxKey ctxKey = iota
	causationCtxKey
	correlationCtxKey
)

// CtxWithMeta returns a copy of ctx carrying meta data to be stored with
// every event saved within this context
func CtxWithMeta(ctx context.Context, meta map[string]string) context.Context {
	return context.WithValue(ctx, metaCtxKey, meta)
}

// CtxWithCausationID returns a copy of ctx carrying the causation event id
func CtxWithCausationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, causationCtxKey, id)
}

// CtxWithCorrelationID returns a copy of ctx carrying the correlation event id
func CtxWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationCtxKey, id)
}

func metaFromCtx(ctx context.Context) map[string]string {
	if meta, ok := ctx.Value(metaCtxKey).(map[string]string); ok {
		return meta
	}

	return nil
}

func causationIDFromCtx(ctx context.Context) string {
	if id, ok := ctx.Value(causationCtxKey).(string); ok {
		return id
	}

	return ""
}

func correlationIDFromCtx(ctx context.Context) string {
	if id, ok := ctx.Value(correlationCtxKey).(string); ok {
		return id
	}

	return ""
}
