package apiclient

import "context"

type requestIDKey struct{}

// WithRequestID attaches the id sent as X-Request-ID on every backend call
// made with the returned context.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
