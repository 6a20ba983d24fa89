package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/statement-pipeline/internal/app"
	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/gcsuploader"
	"github.com/dvloznov/statement-pipeline/internal/logger"
	"github.com/dvloznov/statement-pipeline/internal/pipeline"
	"github.com/dvloznov/statement-pipeline/internal/tools"
)

type processCmd struct {
	concurrency int
	currency    string
}

func (*processCmd) Name() string { return "process" }
func (*processCmd) Synopsis() string {
	return "extract, categorize and save the transactions of one or more statements"
}
func (*processCmd) Usage() string {
	return `process [-j N] [-currency GBP] <file|gs://uri>...

  Runs the full pipeline on each statement (.pdf or .csv). Local paths and
  gs:// URIs are accepted. Files are processed concurrently, at most -j at
  a time; each file succeeds or fails on its own.
`
}

func (p *processCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&p.concurrency, "j", 2, "maximum number of statements processed at once")
	f.StringVar(&p.currency, "currency", "", "currency used to display amounts (defaults to categorize.currency)")
}

func (p *processCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		return fail("process: at least one file is required")
	}
	for _, arg := range f.Args() {
		if _, err := tools.Extension(arg); err != nil {
			return fail("process: %s: %v", arg, err)
		}
	}

	ctx, cfg, log, err := setup(ctx)
	if err != nil {
		return fail("process: %v", err)
	}
	currency := p.currency
	if currency == "" {
		currency = cfg.Categorize.Currency
	}

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		return fail("process: %v", err)
	}
	defer application.Close()

	fetcher := application.Uploader
	if fetcher == nil && hasGCSInput(f.Args()) {
		if fetcher, err = gcsuploader.NewUploader(ctx, ""); err != nil {
			return fail("process: %v", err)
		}
		defer fetcher.Close()
	}

	var (
		mu     sync.Mutex
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.concurrency))

	for _, arg := range f.Args() {
		g.Go(func() error {
			state, err := processOne(gctx, application, fetcher, arg)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "%s: %v\n", arg, err)
				return nil
			}
			fmt.Printf("\n%s (%d transactions, request %s)\n", state.SourceFile, len(state.Transactions), state.RequestID)
			printTransactions(os.Stdout, state.Transactions, currency)
			return nil
		})
	}
	_ = g.Wait()

	if failed > 0 {
		log := logger.FromContext(ctx)
		log.Error().Int("failed", failed).Int("total", f.NArg()).Msg("Some statements failed")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func processOne(ctx context.Context, a *app.App, fetcher *gcsuploader.Uploader, arg string) (*domain.ProcessingState, error) {
	in := pipeline.Input{FilePath: arg, SourceFile: filepath.Base(arg)}
	if gcsuploader.IsGCSURI(arg) {
		local, cleanup, err := fetcher.FetchToTemp(ctx, arg)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		in = pipeline.Input{FilePath: local, SourceFile: gcsuploader.ExtractFilenameFromGCSURI(arg)}
	}
	return a.Process(ctx, in)
}

func hasGCSInput(args []string) bool {
	for _, a := range args {
		if gcsuploader.IsGCSURI(a) {
			return true
		}
	}
	return false
}

type loadCmd struct {
	raw bool
}

func (*loadCmd) Name() string     { return "load" }
func (*loadCmd) Synopsis() string { return "print the document text the extraction stage would see" }
func (*loadCmd) Usage() string {
	return `load [-raw] <file>

  CSV files are rendered as a table; PDFs are sent to the OCR service and
  printed in reconstructed reading order.
`
}

func (l *loadCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&l.raw, "raw", false, "print plain text without terminal rendering")
}

func (l *loadCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return fail("load: exactly one file is required")
	}
	path := f.Arg(0)

	ctx, cfg, _, err := setup(ctx)
	if err != nil {
		return fail("load: %v", err)
	}

	ocrClient := app.NewOCRClient(cfg)
	defer ocrClient.Close()

	loader, err := tools.ForFile(path, ocrClient)
	if err != nil {
		return fail("load: %v", err)
	}
	text, err := loader.Load(ctx)
	if err != nil {
		return fail("load: %v", err)
	}

	if l.raw {
		fmt.Println(text)
		return subcommands.ExitSuccess
	}
	out, err := renderDocument(text, strings.EqualFold(filepath.Ext(path), tools.ExtCSV))
	if err != nil {
		return fail("load: rendering: %v", err)
	}
	fmt.Print(out)
	return subcommands.ExitSuccess
}

// renderDocument renders markdown tables as-is and OCR text as a code block
// so tab-separated columns survive.
func renderDocument(text string, table bool) (string, error) {
	md := text
	if !table {
		md = "```\n" + text + "\n```\n"
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(160))
	if err != nil {
		return "", err
	}
	return r.Render(md)
}

type listCmd struct {
	sourceFile string
	limit      int
}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "list saved transactions" }
func (*listCmd) Usage() string {
	return `list [-source-file NAME] [-limit N]
`
}

func (l *listCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&l.sourceFile, "source-file", "", "only rows from this statement")
	f.IntVar(&l.limit, "limit", 50, "maximum number of rows")
}

func (l *listCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, cfg, _, err := setup(ctx)
	if err != nil {
		return fail("list: %v", err)
	}

	sink, err := app.OpenSink(ctx, cfg)
	if err != nil {
		return fail("list: %v", err)
	}
	defer sink.Close()

	rows, err := sink.List(ctx, domain.ListFilter{SourceFile: l.sourceFile, Limit: l.limit})
	if err != nil {
		return fail("list: %v", err)
	}

	batch := make(domain.Batch, 0, len(rows))
	for _, r := range rows {
		batch = append(batch, r.Transaction)
	}
	printTransactions(os.Stdout, batch, cfg.Categorize.Currency)
	return subcommands.ExitSuccess
}

type ocrHealthCmd struct{}

func (*ocrHealthCmd) Name() string             { return "ocr-health" }
func (*ocrHealthCmd) Synopsis() string         { return "check that the OCR service is reachable" }
func (*ocrHealthCmd) Usage() string            { return "ocr-health\n" }
func (*ocrHealthCmd) SetFlags(_ *flag.FlagSet) {}

func (*ocrHealthCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, cfg, _, err := setup(ctx)
	if err != nil {
		return fail("ocr-health: %v", err)
	}

	client := app.NewOCRClient(cfg)
	defer client.Close()

	status, err := client.Health(ctx)
	if err != nil {
		return fail("ocr-health: %s: %v", cfg.OCR.URL, err)
	}
	fmt.Printf("%s: %s\n", cfg.OCR.URL, status)
	return subcommands.ExitSuccess
}

type archiveCmd struct {
	bucket string
}

func (*archiveCmd) Name() string     { return "archive" }
func (*archiveCmd) Synopsis() string { return "upload a statement to Cloud Storage" }
func (*archiveCmd) Usage() string {
	return `archive [-bucket NAME] <file>

  Uploads the file under statements/YYYY/MM/DD/. The bucket defaults to
  storage.bucket or $GCS_BUCKET.
`
}

func (a *archiveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&a.bucket, "bucket", "", "GCS bucket name")
}

func (a *archiveCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return fail("archive: exactly one file is required")
	}
	path := f.Arg(0)

	ctx, cfg, log, err := setup(ctx)
	if err != nil {
		return fail("archive: %v", err)
	}
	bucket := a.bucket
	if bucket == "" {
		bucket = cfg.Storage.Bucket
	}
	if bucket == "" {
		return fail("archive: no bucket configured")
	}

	uploader, err := gcsuploader.NewUploader(ctx, bucket)
	if err != nil {
		return fail("archive: %v", err)
	}
	defer uploader.Close()

	log.Info().Str("bucket", bucket).Str("file", path).Msg("Uploading file to GCS")
	uri, err := uploader.Archive(ctx, path, filepath.Base(path), "")
	if err != nil {
		return fail("archive: %v", err)
	}
	fmt.Printf("Uploaded %s to %s\n", path, uri)
	return subcommands.ExitSuccess
}

// printTransactions writes one aligned line per transaction.
func printTransactions(w io.Writer, batch domain.Batch, currency string) {
	if len(batch) == 0 {
		fmt.Fprintln(w, "No transactions.")
		return
	}
	for i, t := range batch {
		name := t.Merchant
		if name == "" {
			name = t.Description
		}
		fmt.Fprintf(w, "%3d. %s  %-32s %14s  %s\n",
			i+1, t.TransactionDate, truncate(name, 32), domain.FormatAmount(t.Amount, currency), t.Category)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
