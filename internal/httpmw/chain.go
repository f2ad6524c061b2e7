package httpmw

import "net/http"

// Middleware is the usual net/http decorator shape.
type Middleware = func(http.Handler) http.Handler

// Chain wraps h so mws[0] runs first on the way in. Nil entries are skipped,
// which lets callers pass optional middleware straight from their options.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}
