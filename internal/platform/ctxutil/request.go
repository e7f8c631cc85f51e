package ctxutil

import "context"

type ctxKey int

const (
	traceKey ctxKey = iota
	requestKey
)

// TraceData correlates the log lines and error bodies of one API request.
type TraceData struct {
	TraceID   string
	RequestID string
}

// RequestData holds the authenticated caller of an API request.
type RequestData struct {
	Subject string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceKey, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	td, _ := ctx.Value(traceKey).(*TraceData)
	return td
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestKey, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	rd, _ := ctx.Value(requestKey).(*RequestData)
	return rd
}
