package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"listing_watcher/internal/config"
	"listing_watcher/internal/domain"
	"listing_watcher/internal/logging"
	"listing_watcher/internal/notify"
	"listing_watcher/internal/service"
	"listing_watcher/internal/source/hardverapro"
	"listing_watcher/internal/storage"
	"listing_watcher/internal/storage/postgres"
	"listing_watcher/internal/storage/sqlite"
	"listing_watcher/internal/webhook"
)

const usage = `usage: watchctl [-config path] <command> [args]

commands:
  add-watch <url>
  list
  remove <watch_id>
  set-webhook <watch_id> <url>
  clear-webhook <watch_id>
  notify-on <watch_id> <integration> <channel_id>
  notify-off <watch_id>
  rescrape <watch_id>
  price-alert <watch_id> <listing_id> on|off
  listings [-all] [-json] <watch_id>
`

var errUsage = errors.New("invalid arguments")

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, *configPath, flag.Args(), os.Stdout)
	switch {
	case errors.Is(err, errUsage):
		flag.Usage()
		os.Exit(2)
	case err != nil:
		fmt.Fprintln(os.Stderr, "watchctl:", domain.Message(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, args []string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Keep the terminal for command output; only warnings and errors are logged.
	logCfg := cfg.Log
	if logging.ParseLevel(logCfg.Level) < logging.ParseLevel("warn") {
		logCfg.Level = "warn"
	}
	logger, logCloser, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	db, err := openDB(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var (
		watches  service.WatchStore
		listings service.ListingStore
	)
	if cfg.Database.Driver == config.DriverSQLite {
		watches, listings = sqlite.NewWatchStore(db), sqlite.NewListingStore(db)
	} else {
		watches, listings = postgres.NewWatchStore(db), postgres.NewListingStore(db)
	}

	router := notify.NewRouter(logger)
	router.Register(domain.IntegrationLog, notify.NewLogSender(logger))
	dispatcher := notify.NewDispatcher(router, webhook.NewClient(cfg.Webhook.ClientConfig(), logger), cfg.Webhook.Options(), logger)

	svc := service.NewWatchService(
		hardverapro.New(hardverapro.Config{Timeout: cfg.Scraper.Timeout, UserAgents: cfg.Scraper.UserAgents}, logger),
		watches,
		listings,
		storage.NewTransactionManager(db),
		dispatcher,
		nil,
		logger,
		cfg.Scraper,
	)

	c := &cli{svc: svc, out: out}
	return c.dispatch(ctx, args[0], args[1:])
}

func openDB(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.Driver == config.DriverSQLite {
		return sqlite.Open(ctx, cfg.SQLitePath)
	}
	return sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
}

type cli struct {
	svc *service.WatchService
	out io.Writer
}

func (c *cli) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "add-watch":
		return c.addWatch(ctx, args)
	case "list":
		return c.list(ctx)
	case "remove":
		return c.withID(args, func(id int64) error {
			if err := c.svc.RemoveWatch(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "watch %d removed\n", id)
			return nil
		})
	case "set-webhook":
		if len(args) != 2 {
			return errUsage
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := c.svc.SetWebhook(ctx, id, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "webhook set for watch %d\n", id)
		return nil
	case "clear-webhook":
		return c.withID(args, func(id int64) error {
			if err := c.svc.ClearWebhook(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "webhook cleared for watch %d\n", id)
			return nil
		})
	case "notify-on":
		return c.notifyOn(ctx, args)
	case "notify-off":
		return c.withID(args, func(id int64) error {
			if err := c.svc.ClearNotificationTarget(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "notification target cleared for watch %d\n", id)
			return nil
		})
	case "rescrape":
		return c.withID(args, func(id int64) error {
			stats, err := c.svc.ProcessByID(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "watch %d: %d fetched, %d new, %d price changes, %d gone (%s)\n",
				id, stats.Fetched, stats.New, stats.PriceChanged, stats.Inactive, stats.Duration.Round(time.Millisecond))
			return nil
		})
	case "price-alert":
		return c.priceAlert(ctx, args)
	case "listings":
		return c.listings(ctx, args)
	}
	return errUsage
}

func (c *cli) withID(args []string, fn func(id int64) error) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return fn(id)
}

func (c *cli) addWatch(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	watch, err := c.svc.AddWatch(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "watch %d added: %s\n", watch.ID, watch.URL)
	return nil
}

func (c *cli) list(ctx context.Context) error {
	watches, err := c.svc.ListWatches(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tURL\tLAST CHECKED\tNOTIFY\tWEBHOOK")
	for _, w := range watches {
		last := "never"
		if w.LastChecked > 0 {
			last = time.Unix(w.LastChecked, 0).Format(time.DateTime)
		}
		target := "-"
		if w.NotifyOn != nil {
			target = fmt.Sprintf("%s:%s", w.NotifyOn.Integration, w.NotifyOn.ChannelID)
		}
		hook := "-"
		if w.HasWebhook() {
			hook = *w.Webhook
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", w.ID, w.URL, last, target, hook)
	}
	return tw.Flush()
}

func (c *cli) notifyOn(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return errUsage
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	target := domain.NotificationTarget{
		Integration: domain.Integration(args[1]),
		ChannelID:   args[2],
	}
	if err := c.svc.SetNotificationTarget(ctx, id, target); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "watch %d notifies %s:%s\n", id, target.Integration, target.ChannelID)
	return nil
}

func (c *cli) priceAlert(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return errUsage
	}
	watchID, err := parseID(args[0])
	if err != nil {
		return err
	}
	listingID, err := parseID(args[1])
	if err != nil {
		return err
	}

	var enabled bool
	switch args[2] {
	case "on":
		enabled = true
	case "off":
	default:
		return errUsage
	}

	if err := c.svc.SetPriceAlert(ctx, watchID, listingID, enabled); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "price alert for listing %d set to %s\n", listingID, args[2])
	return nil
}

func (c *cli) listings(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("listings", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	all := fs.Bool("all", false, "include inactive listings")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	var id int64
	if err := c.withID(fs.Args(), func(v int64) error { id = v; return nil }); err != nil {
		return err
	}

	items, err := c.svc.Listings(ctx, id, *all)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPRICE\tACTIVE\tALERT\tCITY\tTITLE")
	for _, l := range items {
		fmt.Fprintf(tw, "%d\t%s\t%t\t%t\t%s\t%s\n",
			l.ID, notify.FormatPrice(l.Price), l.Active, l.PriceAlert, l.City, l.Title)
	}
	return tw.Flush()
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewBadInput("invalid id "+strconv.Quote(raw), map[string]any{"id": raw})
	}
	return id, nil
}
