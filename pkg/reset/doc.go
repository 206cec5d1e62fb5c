// Package reset returns usage counters to zero when their period ends.
//
// Scheduler.SweepExpired is the only reset path. The cron Runner in this
// package, the meter-reset binary and the on-demand HTTP endpoint all call
// it, and because every entry is reset with a conditional write (only if its
// reset time is still due) overlapping sweeps cannot advance an entry twice
// or zero a counter that was already reset.
//
// Scheduled use:
//
//	scheduler := reset.NewScheduler(store, reset.DefaultConfig(), logger, metrics)
//	runner, err := reset.NewRunner(scheduler, "@every 1h", 15*time.Minute, logger)
//	if err != nil {
//	    return err
//	}
//	runner.Start()
//	defer runner.Stop(ctx)
package reset
