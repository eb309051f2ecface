package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/tryonkit/internal/application"
	"github.com/ericfisherdev/tryonkit/internal/domain/model"
)

func runLogin(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	token := fs.String("token", os.Getenv("TRYON_LOGIN_TOKEN"), "login token issued by the identity provider")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*token) == "" {
		return errors.New("-token is required")
	}

	cred, err := a.session.Exchange(ctx, *token)
	if err != nil {
		return err
	}
	fmt.Printf("signed in as %s, token valid until %s\n", cred.UserID, cred.ExpiresAt.Format(time.RFC3339))

	if balance, err := a.ledger.Sync(ctx); err != nil {
		slog.Warn("balance sync after login failed", "error", err)
	} else {
		fmt.Printf("balance: %d credits\n", balance)
	}
	return nil
}

func runLogout(ctx context.Context, a *app, _ []string) error {
	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("signed out")
	return nil
}

func runStatus(ctx context.Context, a *app, _ []string) error {
	cred, err := a.session.Credential(ctx)
	if err != nil {
		return err
	}
	state, err := a.session.State(ctx)
	if err != nil {
		return err
	}
	if cred == nil {
		fmt.Println("state: signed out")
		return nil
	}

	fmt.Printf("state:   %s\n", state)
	fmt.Printf("user:    %s\n", cred.UserID)
	fmt.Printf("expires: %s (%s)\n", cred.ExpiresAt.Format(time.RFC3339), cred.TTL(time.Now()).Round(time.Second))
	fmt.Printf("refresh: %t\n", cred.HasRefreshToken())
	return nil
}

func runBalance(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("balance", flag.ContinueOnError)
	sync := fs.Bool("sync", false, "fetch the authoritative balance first")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *sync {
		balance, err := a.ledger.Sync(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d credits\n", balance)
		return nil
	}

	balance, known, err := a.ledger.Balance(ctx)
	if err != nil {
		return err
	}
	if !known {
		fmt.Println("balance unknown, run: tryonctl balance -sync")
		return nil
	}
	fmt.Printf("%d credits\n", balance)
	return nil
}

func runIntake(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("intake", flag.ContinueOnError)
	kind := fs.String("kind", string(model.AssetKindItem), "asset kind: model or item")
	name := fs.String("name", "", "display name (defaults to the file name)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("intake takes exactly one file")
	}

	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if *name == "" {
		*name = filepath.Base(path)
	}

	res, err := a.intake.Ingest(ctx, model.AssetKind(*kind), *name, data)
	if err != nil {
		return err
	}
	label := "stored"
	if res.Duplicate {
		label = "duplicate"
	}
	fmt.Printf("%s %s (%s, %s)\n", label, res.Asset.ID, res.Asset.Fingerprint.Pixel, res.Asset.Fingerprint.Raw)
	if res.Asset.RemoteRef != "" {
		fmt.Printf("remote: %s\n", res.Asset.RemoteRef)
	}
	return nil
}

// itemList collects repeated -item flags of the form ID[:CATEGORY[:NAME]].
type itemList []model.ItemRef

func (l *itemList) String() string {
	ids := make([]string, 0, len(*l))
	for _, it := range *l {
		ids = append(ids, it.AssetID)
	}
	return strings.Join(ids, ",")
}

func (l *itemList) Set(v string) error {
	parts := strings.SplitN(v, ":", 3)
	if strings.TrimSpace(parts[0]) == "" {
		return errors.New("item asset id is empty")
	}
	ref := model.ItemRef{AssetID: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		ref.Category = parts[1]
	}
	if len(parts) > 2 {
		ref.Name = parts[2]
	}
	*l = append(*l, ref)
	return nil
}

func runTryOn(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("tryon", flag.ContinueOnError)
	subject := fs.String("subject", "", "subject asset id")
	tier := fs.String("tier", string(model.TierStandard), "quality tier: standard, hd or ultra")
	mock := fs.Bool("mock", false, "request a simulated run")
	verify := fs.Bool("verify", false, "load the result and refund the job if it is unusable")
	wait := fs.Duration("wait", 30*time.Second, "how long to wait for the durable copy of the result")
	var items itemList
	fs.Var(&items, "item", "item asset as ID[:CATEGORY[:NAME]], repeatable")
	if err := fs.Parse(args); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if a.materializer != nil {
		go a.materializer.Run(runCtx)
	}

	job, err := a.orchestrator.Submit(ctx, model.JobRequest{
		SubjectAssetID: *subject,
		Items:          items,
		Tier:           model.QualityTier(*tier),
		Mock:           *mock,
	})
	if err != nil {
		return err
	}
	fmt.Printf("job %s %s, charged %d credits\n", job.ID, job.Status, job.CostInCredits)
	fmt.Printf("result: %s\n", job.ResultReference)

	if *verify {
		if err := a.orchestrator.Verify(ctx, job.ID); err != nil {
			return err
		}
		fmt.Println("result verified")
	}

	if a.materializer != nil && *wait > 0 {
		durable, err := waitDurable(ctx, a.orchestrator.Get, job.ID, *wait)
		if err != nil {
			return err
		}
		if durable != nil {
			fmt.Printf("stored: %s\n", durable.ResultReference)
		} else {
			fmt.Println("durable copy still pending")
		}
	}
	return nil
}

// waitDurable polls the job until its result has been materialized or the
// wait elapses. It returns nil when the wait elapses and the parent context's
// error when that is canceled first.
func waitDurable(ctx context.Context, get func(context.Context, string) (*model.Job, error), jobID string, wait time.Duration) (*model.Job, error) {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		job, err := get(ctx, jobID)
		if err != nil {
			if perr := parent.Err(); perr != nil {
				return nil, perr
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, nil
			}
			return nil, err
		}
		if job.Durable {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, parent.Err()
		case <-ticker.C:
		}
	}
}

func runVerify(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("verify takes exactly one job id")
	}
	if err := a.orchestrator.Verify(ctx, args[0]); err != nil {
		return err
	}
	fmt.Println("result verified")
	return nil
}

func runRefund(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("refund", flag.ContinueOnError)
	jobID := fs.String("job", "", "local job id")
	reason := fs.String("reason", "manual refund", "reason recorded with the refund")
	if err := fs.Parse(args); err != nil {
		return err
	}

	balance, err := a.ledger.RefundJob(ctx, *jobID, *reason)
	if err != nil {
		return err
	}
	fmt.Printf("refunded, balance: %d credits\n", balance)
	return nil
}

func runJobs(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "number of jobs to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	jobs, err := a.orchestrator.Recent(ctx, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tTIER\tSTATUS\tCOST\tREFUNDED\tDURABLE")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%t\t%t\n",
			j.ID, j.StartedAt.Format(time.DateTime), j.Tier, j.Status, j.CostInCredits, j.Refunded, j.Durable)
	}
	return tw.Flush()
}

func runJob(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("job takes exactly one job id")
	}
	job, err := a.orchestrator.Get(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("id:      %s\n", job.ID)
	fmt.Printf("remote:  %s\n", job.RemoteID)
	fmt.Printf("status:  %s\n", job.Status)
	fmt.Printf("tier:    %s (mock %t)\n", job.Tier, job.Mock)
	fmt.Printf("cost:    %d\n", job.CostInCredits)
	fmt.Printf("result:  %s\n", job.ResultReference)
	if job.FailureReason != "" {
		fmt.Printf("failure: %s\n", job.FailureReason)
	}

	entries, err := a.ledger.Journal(ctx, job.ID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s  %-6s %3d  balance %d  %s\n",
			e.CreatedAt.Format(time.DateTime), e.Kind, e.Amount, e.BalanceAfter, e.Reason)
	}
	return nil
}

// runServe keeps the credential fresh and materializes results until
// interrupted.
func runServe(ctx context.Context, a *app, _ []string) error {
	if _, err := a.ledger.Sync(ctx); err != nil {
		slog.Warn("initial balance sync failed", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.session.Run(ctx)
		return nil
	})
	if a.materializer != nil {
		g.Go(func() error {
			a.materializer.Run(ctx)
			return nil
		})
	}
	slog.Info("serving", "object_store", a.materializer != nil)
	return g.Wait()
}

func runFingerprint(_ context.Context, _ *app, args []string) error {
	if len(args) == 0 {
		return errors.New("fingerprint takes at least one file")
	}
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		fp, contentType, err := application.ComputeFingerprint(data)
		if err != nil {
			fmt.Printf("%s\t%s\t-\tundecodable\n", path, fp.Raw)
			continue
		}
		fmt.Printf("%s\t%s\t%s\t%s\n", path, fp.Raw, fp.Pixel, contentType)
	}
	return nil
}

func logEvents(events <-chan model.Event) {
	for ev := range events {
		switch ev.Type {
		case model.EventBalanceChanged:
			slog.Info("balance changed", "balance", ev.Balance)
		case model.EventCredentialInvalidated:
			slog.Warn("credential invalidated, sign in again")
		}
	}
}
