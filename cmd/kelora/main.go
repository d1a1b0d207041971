package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/sirupsen/logrus"

	"kelora/internal/cliconfig"
	"kelora/internal/obsmetrics"
	"kelora/internal/pipeline"
	kelerrors "kelora/pkg/errors"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run builds the pipeline from argv and drives it, mapping errors to the
// exit codes spec §6/§7 fix: 0 success, 1 processing error, 2 usage error,
// 130 interrupt, 141 downstream pipe closed.
func run(argv []string) int {
	opts, err := cliconfig.Parse(argv)
	if err != nil {
		return reportAndExit(err)
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := cliconfig.Build(opts, log, os.Stdout, os.Stderr)
	if err != nil {
		return reportAndExit(err)
	}

	if opts.ShowConfig {
		fmt.Fprintf(os.Stdout, "%+v\n", cfg)
		return 0
	}

	if opts.MetricsAddr != "" {
		m := obsmetrics.NewServer(opts.MetricsAddr, log.WithField("component", "obsmetrics"))
		m.Start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	exitCode := 0
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "kelora: interrupted")
			os.Exit(130)
		case <-done:
		}
	}()

	if opts.Parallel {
		workers := opts.Threads
		if workers <= 0 {
			workers = runtime.NumCPU()
		}
		err = pipeline.RunParallel(cfg, workers)
	} else {
		err = pipeline.Run(cfg)
	}
	close(done)

	if err != nil {
		if isBrokenPipe(err) {
			return 141
		}
		return reportAndExit(err)
	}
	return exitCode
}

func reportAndExit(err error) int {
	fmt.Fprintf(os.Stderr, "kelora: %v\n", err)
	if appErr, ok := kelerrors.AsAppError(err); ok {
		return appErr.ExitCode()
	}
	return 1
}

func isBrokenPipe(err error) bool {
	for err != nil {
		if errno, ok := err.(syscall.Errno); ok && errno == syscall.EPIPE {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
