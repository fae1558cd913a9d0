// Package core contains the subscription migration contracts, entities, and
// orchestration logic. Token verification, identity resolution, and usage
// reconciliation are implemented in leaf packages that depend on core; core
// never imports them.
package core
