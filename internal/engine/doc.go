// Package engine supervises the mihomo proxy engine process.
//
// The Supervisor validates the engine executable, builds the launch
// description (asset directory, profile path and the SAFE_PATHS
// allow-list the engine uses to decide which files it may read) and hands
// it to a process.Manager. At most one engine runs per Supervisor.
//
// Lifecycle:
//
//	idle --Start--> running --Stop/exit--> idle
//	idle --Start (launch error)--> failed --Start--> running
//
// Calling Start while the engine is running stops the old process and
// waits for it to be reaped before the new one is launched.
//
// Observers registered with Subscribe receive an Event for every start,
// requested stop, unexpected exit and launch failure. Events are delivered
// in order on a dispatch goroutine, and Close waits until every queued
// event has been delivered.
//
// Example:
//
//	sup := engine.NewSupervisor(engine.Config{
//	    Executable:   "/opt/clashxw/bin/mihomo",
//	    AllowListDir: repo.ConfigDir(),
//	})
//	defer sup.Close()
//
//	if err := sup.Start(repo.CurrentConfigPath()); err != nil {
//	    return err
//	}
package engine
