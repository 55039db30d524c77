package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mornew/gallery/internal/api"
	"github.com/mornew/gallery/internal/audit"
	"github.com/mornew/gallery/internal/compress"
	"github.com/mornew/gallery/internal/config"
	"github.com/mornew/gallery/internal/dedup"
	"github.com/mornew/gallery/internal/export"
	"github.com/mornew/gallery/internal/feed"
	"github.com/mornew/gallery/internal/gallery"
	"github.com/mornew/gallery/internal/kvstore"
	"github.com/mornew/gallery/internal/ledger"
	"github.com/mornew/gallery/internal/models"
	"github.com/mornew/gallery/internal/notify"
	"github.com/mornew/gallery/internal/observability"
	"github.com/mornew/gallery/internal/session"
	"github.com/mornew/gallery/internal/store"
	"github.com/mornew/gallery/internal/upload"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("gallery: %v", err)
	}
}

// app bundles the wired pipeline components for the subcommands.
type app struct {
	cfg       *config.Config
	records   store.RecordStore
	objects   store.ObjectStore
	session   *session.Session
	ledger    *ledger.Ledger
	sync      *gallery.Synchronizer
	scheduler *upload.Scheduler
	auditor   *audit.Auditor
	exporter  *export.Exporter
	closers   []func()
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observability.Initialize(ctx, observability.NewConfig("gallery-client", version))
	if err != nil {
		observability.Warnf("telemetry unavailable: %v", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			telemetry.Shutdown(shutdownCtx)
		}()
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "serve":
		return a.serve(ctx)
	case "upload":
		return a.upload(ctx, args)
	case "resume":
		return a.resume(ctx)
	case "audit":
		return a.audit(ctx, args)
	case "export":
		return a.export(ctx, args)
	case "set-name":
		return a.setName(args)
	default:
		return fmt.Errorf("unknown command %q (expected serve, upload, resume, audit, export or set-name)", cmd)
	}
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	if cfg.Database.UsePostgres() {
		observability.Info("using PostgreSQL record store")
		pg, err := store.NewPostgresStore(cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.records = pg
		a.closers = append(a.closers, func() { pg.Close() })
	} else {
		observability.Info("using SQLite record store")
		lite, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		a.records = lite
		a.closers = append(a.closers, func() { lite.Close() })
	}

	if cfg.ObjectStore.Endpoint != "" {
		observability.Info("using S3 object store")
		s3Store, err := store.NewS3Store(ctx, store.S3Config{
			Endpoint:      cfg.ObjectStore.Endpoint,
			Region:        cfg.ObjectStore.Region,
			Bucket:        cfg.ObjectStore.Bucket,
			AccessKey:     cfg.ObjectStore.AccessKey,
			SecretKey:     cfg.ObjectStore.SecretKey,
			PublicBaseURL: cfg.ObjectStore.PublicBaseURL,
			CacheControl:  cfg.ObjectStore.CacheControl,
		})
		if err != nil {
			return nil, fmt.Errorf("open object store: %w", err)
		}
		a.objects = s3Store
	} else {
		observability.Info("using local directory object store")
		local, err := store.NewLocalStore(cfg.ObjectStore.LocalPath, cfg.ObjectStore.PublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("open local object store: %w", err)
		}
		a.objects = local
	}

	kv, err := kvstore.NewFileStore(filepath.Join(cfg.ProfileDir, "state"))
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}

	a.session, err = session.New(kv)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	a.ledger = ledger.New(kv)

	metrics, err := observability.NewPipelineMetrics()
	if err != nil {
		observability.Warnf("pipeline metrics unavailable: %v", err)
		metrics = nil
	}

	var feedSource gallery.Subscriber
	if cfg.Sync.FeedURL != "" {
		feedSource = feed.NewClient(cfg.Sync.FeedURL)
	}
	a.sync = gallery.NewSynchronizer(a.records, feedSource, cfg.Sync.PollInterval(), metrics)

	compressor := compress.NewCompressor(
		cfg.Upload.MaxDimension,
		cfg.Upload.JPEGQuality,
		cfg.Upload.MinCompressBytes,
	)
	checker := dedup.NewChecker(a.records)

	a.scheduler = upload.NewScheduler(
		a.records, a.objects, compressor, checker,
		a.ledger, a.session, a.sync, metrics,
		cfg.Upload.ConcurrencyWidth,
	)

	var notifier store.Notifier
	if cfg.Audit.WebhookURL != "" {
		notifier = notify.NewDiscordNotifier(cfg.Audit.WebhookURL)
	}
	a.auditor = audit.NewAuditor(a.records, notifier, metrics,
		audit.WithReportLimits(cfg.Audit.MaxGroupsPerRun, time.Duration(cfg.Audit.BatchDelaySeconds)*time.Second))

	a.exporter = export.NewExporter(a.objects)

	if pending := a.ledger.Load(); pending != nil {
		observability.Warnf("a batch of %d file(s) from %s did not finish; run 'gallery resume' to retry",
			len(pending.Files), pending.CreatedAt.Format(time.RFC3339))
	}

	return a, nil
}

func (a *app) close() {
	for _, c := range a.closers {
		c()
	}
}

// serve bootstraps the synchronized view and runs the read-only API until
// interrupted.
func (a *app) serve(ctx context.Context) error {
	if err := a.sync.Bootstrap(ctx); err != nil {
		observability.Warnf("initial fetch failed, serving once the poll recovers: %v", err)
	}
	a.sync.Run(ctx)
	defer a.sync.Close()

	srv := &http.Server{
		Addr:         a.cfg.API.Address,
		Handler:      api.NewServer(a.sync).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		observability.Infof("API listening on %s", a.cfg.API.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	observability.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// upload reads the given files and submits them as one batch.
func (a *app) upload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	name := fs.String("name", "", "uploader display name (persisted for later runs)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name != "" {
		if err := a.session.SetDisplayName(*name); err != nil {
			return err
		}
	}

	paths := fs.Args()
	if len(paths) == 0 {
		return models.ErrEmptyBatch
	}

	files, err := readFiles(paths)
	if err != nil {
		return err
	}

	if err := a.sync.Bootstrap(ctx); err != nil {
		observability.Warnf("initial fetch failed: %v", err)
	}

	result, err := a.scheduler.Submit(ctx, files, printProgress)
	if err == models.ErrNameRequired {
		return fmt.Errorf("no display name set; rerun with -name or 'gallery set-name'")
	}
	if err != nil {
		return err
	}

	fmt.Printf("\n%d uploaded, %d skipped as duplicates, %d failed\n",
		result.Uploaded, result.Skipped, result.Failed)
	return nil
}

// resume retries the batch recorded in the ledger, re-reading the files from
// the paths captured at submit time.
func (a *app) resume(ctx context.Context) error {
	pending := a.ledger.Load()
	if pending == nil {
		fmt.Println("nothing to resume")
		return nil
	}

	paths := make([]string, len(pending.Files))
	for i, f := range pending.Files {
		paths[i] = f.Filename
	}

	files, err := readFiles(paths)
	if err != nil {
		return fmt.Errorf("original files no longer readable: %w", err)
	}

	result, err := a.scheduler.Submit(ctx, files, printProgress)
	if err != nil {
		return err
	}

	fmt.Printf("\n%d uploaded, %d skipped as duplicates, %d failed\n",
		result.Uploaded, result.Skipped, result.Failed)
	return nil
}

// audit scans for duplicate groups, optionally posting the report.
func (a *app) audit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	report := fs.Bool("report", false, "post findings to the configured webhook")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var groups []models.DuplicateGroup
	var err error
	if *report {
		groups, err = a.auditor.Report(ctx)
	} else {
		groups, err = a.auditor.Audit(ctx)
	}
	if err != nil {
		return err
	}

	if len(groups) == 0 {
		fmt.Println("no duplicates found")
		return nil
	}

	for i, g := range groups {
		fmt.Printf("group %d: %s (%d bytes), %d copies, keep %s\n",
			i+1, g.Filename, g.FileSize, len(g.Members), g.Original().ID)
	}
	return nil
}

// export downloads every pool item into the given directory.
func (a *app) export(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: gallery export <directory>")
	}
	dir := args[0]

	if err := a.sync.Bootstrap(ctx); err != nil {
		return err
	}

	result, err := a.exporter.Export(ctx, a.sync.Snapshot(), dir, func(done, total int) {
		fmt.Printf("\rexporting %d/%d", done, total)
	})
	if result != nil {
		fmt.Printf("\n%d saved, %d failed\n", result.Saved, result.Failed)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) setName(args []string) error {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return fmt.Errorf("usage: gallery set-name <display name>")
	}
	if err := a.session.SetDisplayName(strings.Join(args, " ")); err != nil {
		return err
	}
	fmt.Printf("display name set to %q (storage prefix %q)\n",
		a.session.DisplayName(), a.session.SafeName())
	return nil
}

// readFiles loads the given paths into memory, dropping anything that is not
// an image. The stored Name keeps the full path so an interrupted batch can
// be re-read on resume.
func readFiles(paths []string) ([]models.LocalFile, error) {
	files := make([]models.LocalFile, 0, len(paths))
	for _, p := range paths {
		mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(p)))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}

		f := models.LocalFile{Name: p, MimeType: mimeType}
		if !f.IsImage() {
			observability.Warnf("skipping %s: %s is not an image type", p, mimeType)
			continue
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		f.Data = data

		files = append(files, f)
	}
	if len(files) == 0 {
		return nil, models.ErrEmptyBatch
	}
	return files, nil
}

func printProgress(percent int) {
	fmt.Printf("\ruploading %3d%%", percent)
}
