package requestdata

import (
	"context"

	"github.com/google/uuid"
)

type contextKey struct{}

type RequestData struct {
	UserID  uuid.UUID
	IsAdmin bool
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, contextKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	if ctx == nil {
		return nil
	}
	rd, _ := ctx.Value(contextKey{}).(*RequestData)
	return rd
}
