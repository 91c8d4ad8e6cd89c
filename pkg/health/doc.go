// Package health implements bounded readiness polling against replica
// HTTP endpoints.
//
// HTTPChecker backs the manager's 1-second-connect-deadline readiness
// probe against vanilla replicas (spec.md §4.3, §5). Status and Config
// track consecutive failures of the controller's cluster check behind
// /system_status. The compiler actor's wait for a newly patched
// dispatcher does not use this package: it lists pods through the
// cluster driver.
package health
