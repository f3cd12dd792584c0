package preview

import "context"

// Token is the cancellation ticket of one preview request. Many tokens may
// be outstanding for the same combo at once, one per requester.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewToken returns a token that is also cancelled when parent ends.
func NewToken(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Cancel marks the token cancelled. It is idempotent.
func (t *Token) Cancel() { t.cancel() }

// Cancelled reports whether the token was cancelled.
func (t *Token) Cancelled() bool { return t.ctx.Err() != nil }

// Context returns a context that is done once the token is cancelled.
func (t *Token) Context() context.Context { return t.ctx }
