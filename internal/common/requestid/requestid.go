package requestid

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/renstrom/shortuuid"
)

// Request IDs are embedded in HTTP headers using this key.
// This is the standard key used for request Ids. For example, opentelemetry uses the same one.
const MetadataKey = "x-request-id"

type contextKey struct{}

// FromContext returns the request Id stored in a context, if one is available.
// The second return value is true if the operation was successful.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// FromContextOrMissing returns the request Id stored in a context,
// if one is available. If none is available, the string "missing" is returned.
func FromContextOrMissing(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok {
		return id
	}
	return "missing"
}

// AddToContext returns a new context derived from ctx that is annotated with an Id.
// If ctx already has an Id, it is overwritten.
func AddToContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// Middleware returns a gin handler that annotates incoming requests with an Id.
// Ids are read from the x-request-id header or generated using github.com/renstrom/shortuuid.
// If replace is true, a new Id is always generated. The Id is echoed back in the response headers.
func Middleware(replace bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(MetadataKey)
		if id == "" || replace {
			id = shortuuid.New()
		}
		c.Request = c.Request.WithContext(AddToContext(c.Request.Context(), id))
		c.Header(MetadataKey, id)
		c.Next()
	}
}
