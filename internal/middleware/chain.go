package middleware

import "net/http"

// Middleware is a function that wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Builder composes middlewares in registration order: the first Use call
// becomes the outermost wrapper, matching the gateway's recovery-then-logging
// pipeline ordering.
type Builder struct {
	middlewares []Middleware
}

// NewBuilder creates an empty middleware builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Use appends a middleware to the builder.
func (b *Builder) Use(m Middleware) *Builder {
	b.middlewares = append(b.middlewares, m)
	return b
}

// Handler wraps h with every registered middleware, outermost first.
func (b *Builder) Handler(h http.Handler) http.Handler {
	for i := len(b.middlewares) - 1; i >= 0; i-- {
		h = b.middlewares[i](h)
	}
	return h
}
