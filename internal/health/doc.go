// Package health provides composable probes and the liveness and readiness
// handlers served by the admin server.
//
// Probes combine with [All] and [Fixed];
// [CheckFunc] adapts a plain function and [Named] labels a failure with the
// component it came from.
//
// [ShutdownGate] fails readiness as soon as shutdown starts so that
// orchestrators stop routing admin traffic before the listener closes.
package health
