package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/peterbourgon/ff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/kassenbon/analyzer/internal/classify"
	"github.com/kassenbon/analyzer/internal/receipt"
	"github.com/kassenbon/analyzer/internal/scanning"
)

const (
	inboxDebounce = 2 * time.Second
	rulesDebounce = 500 * time.Millisecond
	dateLayout    = "2006-01-02"
)

type rootCommand struct {
	command    *ff.Command
	dbPath     *string
	store      *string
	archive    *string
	inbox      *string
	quarantine *string
	rules      *string
	workers    *int
	logLevel   *string
	logFormat  *string
}

func newRootCommand() *rootCommand {
	fs := ff.NewFlagSet("kassenbon")
	root := &rootCommand{
		dbPath:     fs.StringLong("db", "kassenbon.db", "Database file path"),
		store:      fs.StringLong("store", "bolt", "Database backend: 'bolt' or 'sqlite'"),
		archive:    fs.StringLong("archive", "Ablage", "Archive directory for imported PDFs"),
		inbox:      fs.StringLong("inbox", "PDF", "Inbox directory scanned by import"),
		quarantine: fs.StringLong("quarantine", "Fehler", "Directory for PDFs that could not be processed"),
		rules:      fs.StringLong("rules", "categories.json", "Custom category rule file"),
		workers:    fs.IntLong("workers", 4, "Concurrent text extractions during import"),
		logLevel:   fs.StringLong("log-level", "info", "Log level: debug, info, warn or error"),
		logFormat:  fs.StringLong("log-format", "text", "Log format: text or json"),
	}

	root.command = &ff.Command{
		Name:      "kassenbon",
		Usage:     "kassenbon [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "analyze German grocery receipts",
		Flags:     fs,
		Exec: func(context.Context, []string) error {
			return ff.ErrHelp
		},
		Subcommands: []*ff.Command{
			root.serveCommand(fs),
			root.importCommand(fs),
			root.reclassifyCommand(fs),
			root.parseCommand(fs),
			root.exportCommand(fs),
			{
				Name:      "version",
				ShortHelp: "print the version",
				Exec: func(context.Context, []string) error {
					fmt.Println(version)
					return nil
				},
			},
		},
	}
	return root
}

// app holds the opened dependencies of one command run.
type app struct {
	db       receipt.DB
	registry *classify.Registry
	scanner  scanning.Scanner
	service  *receipt.Service
}

func (r *rootCommand) openRules() (*classify.Registry, scanning.Scanner, error) {
	registry, err := classify.NewRegistry(*r.rules)
	if err != nil {
		return nil, nil, fmt.Errorf("loading rules: %w", err)
	}
	scanner := scanning.NewPDFScanner(nil, scanning.NewParser(registry, scanning.NaturalDates{}))
	return registry, scanner, nil
}

func (r *rootCommand) openDB() (receipt.DB, error) {
	slog.Info("Initializing database...", "backend", *r.store, "path", *r.dbPath)
	switch *r.store {
	case "bolt":
		return receipt.NewBoltDB(*r.dbPath)
	case "sqlite":
		return receipt.NewSQLiteDB(*r.dbPath)
	default:
		return nil, fmt.Errorf("invalid store %q, expected bolt or sqlite", *r.store)
	}
}

func (r *rootCommand) openApp() (*app, error) {
	registry, scanner, err := r.openRules()
	if err != nil {
		return nil, err
	}
	db, err := r.openDB()
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	storage, err := receipt.NewLocalStorage(*r.archive, *r.quarantine)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening archive: %w", err)
	}

	service := receipt.NewService(db, scanner, storage, registry, *r.inbox)
	service.SetImportWorkers(*r.workers)
	return &app{db: db, registry: registry, scanner: scanner, service: service}, nil
}

func (a *app) Close() {
	if err := a.scanner.Close(); err != nil {
		slog.Warn("Failed to close scanner", "error", err)
	}
	if err := a.db.Close(); err != nil {
		slog.Warn("Failed to close database", "error", err)
	}
}

func (r *rootCommand) serveCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(parent)
	var (
		port       = fs.IntLong("port", 8080, "HTTP server port")
		authUser   = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass   = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		watchInbox = fs.BoolLong("watch-inbox", "Import PDFs as soon as they land in the inbox")
		watchRules = fs.BoolLong("watch-rules", "Reload the rule file when it changes on disk")
	)
	return &ff.Command{
		Name:      "serve",
		Usage:     "kassenbon serve [FLAGS]",
		ShortHelp: "run the HTTP API",
		Flags:     fs,
		Exec: func(ctx context.Context, _ []string) error {
			a, err := r.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			server := receipt.NewServer(a.service, receipt.BasicAuth{
				Username: *authUser,
				Password: *authPass,
			})
			if *authUser != "" || *authPass != "" {
				slog.Info("Basic auth enabled", "user", *authUser)
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.Start(gctx, fmt.Sprintf(":%d", *port))
			})
			if *watchInbox {
				g.Go(func() error {
					return a.service.WatchInbox(gctx, inboxDebounce)
				})
			}
			if *watchRules {
				g.Go(func() error {
					return a.registry.Watch(gctx, rulesDebounce)
				})
			}
			err = g.Wait()
			slog.Info("Shutting down...")
			return err
		},
	}
}

func (r *rootCommand) importCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("import").SetParent(parent)
	return &ff.Command{
		Name:      "import",
		Usage:     "kassenbon import [FLAGS]",
		ShortHelp: "import every PDF waiting in the inbox",
		Flags:     fs,
		Exec: func(ctx context.Context, _ []string) error {
			a, err := r.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.service.ImportInbox(ctx)
			if run != nil {
				for _, res := range run.Results {
					fmt.Printf("%-9s %s: %s\n", res.Status, res.File, res.Message)
				}
				fmt.Printf("%d files, %d new, %d duplicates, %d failed\n",
					run.Summary.Total, run.Summary.New, run.Summary.Duplicate, run.Summary.Failed)
			}
			return err
		},
	}
}

func (r *rootCommand) reclassifyCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("reclassify").SetParent(parent)
	dryRun := fs.BoolLong("dry-run", "Only list the changes")
	return &ff.Command{
		Name:      "reclassify",
		Usage:     "kassenbon reclassify [FLAGS]",
		ShortHelp: "re-run the active rules over every stored item",
		Flags:     fs,
		Exec: func(context.Context, []string) error {
			a, err := r.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.service.Reclassify(*dryRun)
			if err != nil {
				return err
			}
			for _, c := range res.Changes {
				fmt.Printf("%s: %s -> %s\n", c.Name, c.From, c.To)
			}
			verb := "updated"
			if res.DryRun {
				verb = "would change"
			}
			fmt.Printf("%d of %d items %s\n", res.Updated, res.Total, verb)
			return nil
		},
	}
}

func (r *rootCommand) parseCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("parse").SetParent(parent)
	return &ff.Command{
		Name:      "parse",
		Usage:     "kassenbon parse [FLAGS] <file.pdf>",
		ShortHelp: "print the fields extracted from one PDF as JSON",
		Flags:     fs,
		Exec: func(_ context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("parse takes exactly one file")
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			_, scanner, err := r.openRules()
			if err != nil {
				return err
			}
			defer scanner.Close()

			rd, err := scanner.ScanReceipt(data)
			if err != nil {
				return fmt.Errorf("%w: %v", scanning.ErrExtraction, err)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rd)
		},
	}
}

func (r *rootCommand) exportCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("export").SetParent(parent)
	var (
		out   = fs.StringLong("out", "", "Output file (default kassenbons_<date>.xlsx)")
		store = fs.StringLong("filter-store", "", "Only receipts whose store contains this text")
		from  = fs.StringLong("from", "", "First day to include (YYYY-MM-DD)")
		to    = fs.StringLong("to", "", "Last day to include (YYYY-MM-DD)")
	)
	return &ff.Command{
		Name:      "export",
		Usage:     "kassenbon export [FLAGS]",
		ShortHelp: "write purchased items to an XLSX workbook",
		Flags:     fs,
		Exec: func(context.Context, []string) error {
			f := receipt.Filter{Store: *store}
			var err error
			if f.From, err = parseDay(*from); err != nil {
				return err
			}
			if f.To, err = parseDay(*to); err != nil {
				return err
			}

			a, err := r.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			data, err := a.service.ExportXLSX(f)
			if err != nil {
				return err
			}
			path := *out
			if path == "" {
				path = fmt.Sprintf("kassenbons_%s.xlsx", time.Now().Format(dateLayout))
			}
			if err := os.WriteFile(path, data, 0644); err != nil {
				return fmt.Errorf("writing export: %w", err)
			}
			slog.Info("Export saved", "path", path)
			return nil
		},
	}
}

func parseDay(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return &t, nil
}
