package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/tryonkit/internal/domain/model"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

type command struct {
	name  string
	usage string
	// offline commands run without configuration or storage.
	offline bool
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{name: "login", usage: "login -token TOKEN", run: runLogin},
	{name: "logout", usage: "logout", run: runLogout},
	{name: "status", usage: "status", run: runStatus},
	{name: "balance", usage: "balance [-sync]", run: runBalance},
	{name: "intake", usage: "intake -kind model|item [-name NAME] FILE", run: runIntake},
	{name: "tryon", usage: "tryon -subject ID -item ID[:CATEGORY[:NAME]]... [-tier T] [-mock] [-verify]", run: runTryOn},
	{name: "verify", usage: "verify JOB_ID", run: runVerify},
	{name: "refund", usage: "refund -job JOB_ID [-reason TEXT]", run: runRefund},
	{name: "jobs", usage: "jobs [-limit N]", run: runJobs},
	{name: "job", usage: "job JOB_ID", run: runJob},
	{name: "serve", usage: "serve", run: runServe},
	{name: "fingerprint", usage: "fingerprint FILE...", offline: true, run: runFingerprint},
}

var errUsage = errors.New("usage")

func usage() {
	fmt.Fprintln(os.Stderr, "usage: tryonctl <command> [flags]")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %s\n", c.usage)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		usage()
		return errUsage
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == args[0] {
			cmd = &commands[i]
			break
		}
	}
	if cmd == nil {
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}

	// Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cmd.offline {
		return cmd.run(ctx, nil, args[1:])
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	err = cmd.run(ctx, a, args[1:])
	if model.RequiresLogin(err) {
		return fmt.Errorf("%w: run tryonctl login", err)
	}
	return err
}
