package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/sms-spam-filter/internal/adapters/filter"
	"github.com/mikey/sms-spam-filter/internal/adapters/ingest"
	"github.com/mikey/sms-spam-filter/internal/config"
	"github.com/mikey/sms-spam-filter/internal/core"
	"github.com/mikey/sms-spam-filter/internal/di"
	"github.com/mikey/sms-spam-filter/internal/factory"
	"github.com/mikey/sms-spam-filter/internal/utils"
)

func main() {
	flags, err := di.ParseFlags(os.Args[0], os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	// Build the dependency injection container
	container, err := di.BuildCLIContainer(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Run the application
	if err := container.Invoke(func(d deps) error { return run(ctx, flags, d) }); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

type deps struct {
	dig.In

	Logger        *zap.Logger
	Config        *config.Config
	Service       *core.ClassificationService
	Storage       *factory.Storage
	FilterFactory *factory.FilterFactory
	Text          *utils.TextProcessor
}

// run is the main application function that gets all dependencies injected
func run(ctx context.Context, flags *di.CLIFlags, d deps) error {
	defer d.Logger.Sync()
	defer func() {
		if err := d.Storage.Close(); err != nil {
			d.Logger.Error("Failed to close storage", zap.Error(err))
		}
	}()

	cli, err := d.FilterFactory.CreateMessageFilter(os.Stdout, flags.Verbose)
	if err != nil {
		return err
	}
	if err := cli.Start(); err != nil {
		return err
	}
	defer cli.Stop()

	svc := d.Service
	switch {
	case flags.Pin != "":
		return printReputation(svc.PinSender(ctx, flags.Pin, true))
	case flags.Unpin != "":
		return printReputation(svc.PinSender(ctx, flags.Unpin, false))
	case flags.AutoSpam != "":
		return printReputation(svc.SetAutoSpam(ctx, flags.AutoSpam, true))
	case flags.NoAutoSpam != "":
		return printReputation(svc.SetAutoSpam(ctx, flags.NoAutoSpam, false))
	case flags.Correct != "":
		id, category, err := di.ParseCorrection(flags.Correct)
		if err != nil {
			return err
		}
		if err := svc.HandleUserCorrection(ctx, id, category, flags.Reason); err != nil {
			return err
		}
		return explain(ctx, svc, cli, id)
	case flags.Why != 0:
		return explain(ctx, svc, cli, flags.Why)
	case flags.Prune:
		return prune(ctx, d)
	default:
		return classify(ctx, flags, d, cli)
	}
}

func classify(ctx context.Context, flags *di.CLIFlags, d deps, cli *filter.CliFilter) error {
	src, err := ingest.Open(flags.InputFile, d.Text, d.Config.GetInt("ingest.max_body_size"), d.Logger)
	if err != nil {
		return err
	}
	defer src.Close()

	msgs, err := ingest.ReadAll(ctx, src, d.Logger)
	if err != nil {
		return err
	}
	d.Logger.Info("Read messages", zap.Int("count", len(msgs)), zap.String("file", flags.InputFile))

	if len(msgs) == 1 {
		_, err := cli.ProcessMessage(ctx, msgs[0])
		if errors.Is(err, core.ErrDuplicate) {
			return nil
		}
		return err
	}

	for i, res := range d.Service.ClassifyAndStoreBatch(ctx, msgs) {
		fmt.Printf("\n=== Message %d from %s ===\n", i+1, msgs[i].Sender)
		if res.Err != nil {
			fmt.Printf("Error: %v\n", res.Err)
			continue
		}
		cli.PrintResult(res.Classification)
	}
	return nil
}

func explain(ctx context.Context, svc *core.ClassificationService, cli *filter.CliFilter, id int64) error {
	result, err := svc.Explain(ctx, id)
	if err != nil {
		return err
	}
	cli.PrintResult(result)
	return nil
}

func prune(ctx context.Context, d deps) error {
	auditCfg, err := d.Config.GetAudit()
	if err != nil {
		return err
	}
	if auditCfg.Retention <= 0 {
		return fmt.Errorf("audit.retention must be positive to prune")
	}

	removed, err := d.Service.PruneAudit(ctx, auditCfg.Retention)
	if err != nil {
		return err
	}
	purged, err := d.Service.PurgeDeleted(ctx, auditCfg.Retention)
	if err != nil {
		return err
	}
	fmt.Printf("Pruned %d audit records and purged %d deleted messages\n", removed, purged)
	return nil
}

func printReputation(rep *core.SenderReputation, err error) error {
	if err != nil {
		return err
	}
	return writeReputation(os.Stdout, rep)
}

func writeReputation(w io.Writer, rep *core.SenderReputation) error {
	_, err := fmt.Fprintf(w, "Sender: %s\nPinned: %t\nAuto-spam: %t\nImportance: %.2f\nSpam: %.2f\n",
		rep.Sender, rep.PinnedToInbox, rep.AutoSpam, rep.ImportanceScore, rep.SpamScore)
	return err
}
