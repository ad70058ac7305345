// Package maintenance holds the scheduler's housekeeping: the background
// Runner that reclaims stale tasks, rebuilds the priority index and
// refreshes gauges, and the Admin primitives behind the operator CLI.
package maintenance
