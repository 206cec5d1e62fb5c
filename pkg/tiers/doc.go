// Package tiers holds the plan table that turns a subscription tier into
// usage limits.
//
// The table is the only place limits come from. Account creation and billing
// updates both call Table.LimitsFor, so a limit can never drift from the tier
// it belongs to. Unknown tiers resolve to the lowest tier.
//
//	table := tiers.DefaultTable()
//	table.LimitsFor(tiers.Professional) // {Executions: 700, Files: 1000}
//	table.LimitsFor("enterprise")       // {Executions: 50, Files: 50}
//
// A deployment can replace the defaults with a YAML file:
//
//	tiers:
//	  - name: starter
//	    executions: 50
//	    files: 50
//	  - name: professional
//	    executions: 700
//	    files: 1000
package tiers
