// Package remotecfg keeps a ratelog.Logger in sync with a JSON overrides
// document stored in an SSM parameter.
//
// The document has the same shape as the admin API's PATCH body:
//
//	{"enabled": true, "logLevel": "warn", "prefix": "[shop]", "maxLogsPerSecond": 20}
//
// Missing keys leave the current value alone. A document is applied once per
// change; an unparseable document is logged and skipped until the parameter
// changes again. SSM errors back off exponentially, and the watcher reports
// itself stale (metric, log line, failing readiness probe) once no poll has
// succeeded for the stale threshold.
package remotecfg
