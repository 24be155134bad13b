package audit

import "context"

type clientKey struct{}

// Client is the best-effort origin of a logged action
type Client struct {
	IPAddress string
	UserAgent string
}

// WithClient attaches client metadata that Log records on new events
func WithClient(ctx context.Context, ipAddress, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey{}, Client{IPAddress: ipAddress, UserAgent: userAgent})
}

// ClientFromContext returns the metadata set by WithClient, if any
func ClientFromContext(ctx context.Context) Client {
	if ctx == nil {
		return Client{}
	}
	c, _ := ctx.Value(clientKey{}).(Client)
	return c
}
