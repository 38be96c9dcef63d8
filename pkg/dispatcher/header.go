package dispatcher

import "context"

type headerKey struct{}

// WithCallHeader returns ctx carrying the call header.
func WithCallHeader(ctx context.Context, header map[string]any) context.Context {
	return context.WithValue(ctx, headerKey{}, header)
}

// CallHeader returns the header of the call being handled, or nil.
func CallHeader(ctx context.Context) map[string]any {
	h, _ := ctx.Value(headerKey{}).(map[string]any)
	return h
}

// CallHeaderString returns one string header value of the call being handled.
func CallHeaderString(ctx context.Context, key string) string {
	s, _ := CallHeader(ctx)[key].(string)
	return s
}
