package rescache

import "context"

// varyParamsKey is the context key backing the VaryParams host feature
// slot: an application-declared string-list side-channel a downstream
// handler contributes to, naming query-param names that vary the
// response beyond whatever its own Vary header lists.
//
// Unlike a header, a handler cannot retroactively rewrite the request
// context its caller already dispatched with, so the slot is a pointer
// installed by Invoke before calling downstream, rather than a value
// threaded back up through context.WithValue.
type varyParamsKey struct{}

// withVaryParamsSlot installs an empty, settable VaryParams slot into
// ctx. Called once per request by Invoke, before the downstream handler
// runs.
func withVaryParamsSlot(ctx context.Context) (context.Context, *[]string) {
	slot := new([]string)
	return context.WithValue(ctx, varyParamsKey{}, slot), slot
}

// WithVaryParams records the given query-param names as the current
// request's VaryParams feature. A handler calls this, with its own
// request's context, before writing its response so FinalizeHeaders can
// fold the names into the vary signature. A no-op if the context was
// not dispatched by this middleware.
func WithVaryParams(ctx context.Context, params ...string) {
	if slot, ok := ctx.Value(varyParamsKey{}).(*[]string); ok {
		*slot = params
	}
}

// varyParamsFromSlot reads back whatever the handler recorded via
// WithVaryParams, or nil if nothing was recorded.
func varyParamsFromSlot(slot *[]string) []string {
	if slot == nil {
		return nil
	}
	return *slot
}
