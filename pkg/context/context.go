package context

import "context"

type ContextKey string

var (
	RequestIDKey = ContextKey("X-Request-Id")
	IdentityKey  = ContextKey("X-Entity-Identity")
	GuildIDKey   = ContextKey("X-Guild-Id")
	OriginKey    = ContextKey("X-Sync-Origin")
)

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	value, ok := ctx.Value(RequestIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

func GetIdentity(ctx context.Context) string {
	value, ok := ctx.Value(IdentityKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetGuildID(ctx context.Context, guildID string) context.Context {
	return context.WithValue(ctx, GuildIDKey, guildID)
}

func GetGuildID(ctx context.Context) string {
	value, ok := ctx.Value(GuildIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, OriginKey, origin)
}

func GetOrigin(ctx context.Context) string {
	value, ok := ctx.Value(OriginKey).(string)
	if !ok {
		return ""
	}
	return value
}
