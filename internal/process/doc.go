// Package process provides generic subprocess lifecycle management.
//
// A Manager owns at most one child process at a time. It launches the
// child directly (no shell), streams its output into the logger, watches
// for exit on a background goroutine and force-terminates it on Stop.
//
// Features:
//   - Start/stop with a bounded wait for the killed process to be reaped
//   - Exit notification for both requested and unexpected exits
//   - Platform launch attributes (own process group on Unix, no console
//     window on Windows)
//   - Log capture from subprocess stdout/stderr
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:        "mihomo",
//	    StopTimeout: 5 * time.Second,
//	})
//
//	err := mgr.Start(process.Spec{
//	    Binary: "/opt/clashxw/bin/mihomo",
//	    Args:   []string{"-d", assetDir, "-f", configPath},
//	    Dir:    "/opt/clashxw/bin",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Stop()
package process
