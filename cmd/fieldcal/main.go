package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"fieldcal/internal/calendar"
	"fieldcal/internal/capture"
	"fieldcal/internal/config"
	"fieldcal/internal/console"
	"fieldcal/internal/ics"
	appLog "fieldcal/internal/log"
	"fieldcal/internal/metrics"
	"fieldcal/internal/model"
	"fieldcal/internal/refresh"
	"fieldcal/internal/reschedule"
	"fieldcal/internal/source"
	"fieldcal/internal/tz"
	"fieldcal/internal/web"
)

const defaultICSCacheDir = "/var/lib/fieldcal/ics-cache"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	debug      bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	level := appLog.ParseLevel(conf.LogLevel)
	if flags.debug {
		level = appLog.LevelDebug
	}
	appLog.SetLevel(level)
	defer appLog.Sync()

	appLog.Info("fieldcal starting",
		"listen", conf.Listen,
		"work_timezone", conf.WorkTimezone,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"backfill_days", conf.BackfillDays,
		"source", conf.Source.Kind,
		"ics_count", len(conf.Source.ICS),
		"capture", conf.Capture.Enabled,
		"once", flags.once,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("fieldcal exited with error", err)
		appLog.Sync()
		os.Exit(1)
	}
	appLog.Info("fieldcal exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	conv := tz.NewWithLocation(resolveLocationOrUTC(conf.WorkTimezone))
	if conf.ViewerTimezone != "" {
		conv = tz.NewWithLocation(conv.Work(), tz.WithViewer(resolveLocationOrUTC(conf.ViewerTimezone)))
	}

	src, persister := buildSource(conf, conv)
	m := metrics.NewCalendarMetrics(prometheus.DefaultRegisterer)
	store := calendar.NewStore()
	proj := calendar.NewProjector(conv, conf.Palette)

	refresher := refresh.New(refresh.Config{
		Source:       src,
		Projector:    proj,
		Store:        store,
		Converter:    conv,
		Metrics:      m,
		BackfillDays: conf.BackfillDays,
		HorizonDays:  conf.HorizonDays,
	})

	if flags.once {
		if err := refresher.RunOnce(ctx); err != nil {
			return err
		}
		printSummary(store)
		return nil
	}

	// A failed first fetch is not fatal; the schedule retries.
	_ = refresher.RunOnce(ctx)
	if err := refresher.Start(ctx, conf.RefreshCron); err != nil {
		return err
	}

	inbox := reschedule.NewInbox(50)
	resched := reschedule.New(store, conv, persister,
		reschedule.WithNotifier(inbox),
		reschedule.WithMetrics(m),
	)
	session := console.NewSession(console.Config{
		Store:       store,
		Converter:   conv,
		Rescheduler: resched,
		ClickWindow: time.Duration(conf.ClickWindowMs) * time.Millisecond,
		Navigate: func(jobID string) {
			appLog.Info("navigate to job", "job_id", jobID)
		},
	})
	defer session.Close()

	g := conf.Grid
	layout := calendar.NewLayout(calendar.Grid{
		StartHour:      g.StartHour,
		EndHour:        g.EndHour,
		RowHeight:      g.RowHeight,
		MinEventHeight: g.MinEventHeight,
		Gap:            g.Gap,
		ColumnWidth:    g.ColumnWidth,
	}, conv)

	srv := web.NewServer(web.Deps{
		Config:    conf,
		Store:     store,
		Converter: conv,
		Layout:    layout,
		Session:   session,
		Inbox:     inbox,
		Refresher: refresher,
		Gatherer:  prometheus.DefaultGatherer,
	})

	if conf.Capture.Enabled {
		startCapture(ctx, conf, store)
	}

	err := srv.Run(ctx, conf.Listen)
	refresher.Stop()
	return err
}

// buildSource picks the appointment source and the persister for
// confirmed reschedules.
func buildSource(conf *config.Config, conv *tz.Converter) (source.Source, source.Persister) {
	sc := conf.Source
	switch sc.Kind {
	case config.SourceHTTP:
		c := source.NewHTTPClient(sc.BaseURL, sc.Token)
		return c, c

	case config.SourceICS:
		feeds := make([]ics.Feed, 0, len(sc.ICS))
		for _, f := range sc.ICS {
			if f.URL == "" {
				continue
			}
			id := f.ID
			if id == "" {
				if f.Name != "" {
					id = f.Name
				} else {
					id = f.URL
				}
			}
			feeds = append(feeds, ics.Feed{ID: id, Name: f.Name, URL: f.URL})
		}
		cacheDir := sc.CacheDir
		if cacheDir == "" {
			cacheDir = defaultICSCacheDir
		}
		var persister source.Persister = source.ReadOnly{}
		if sc.BaseURL != "" {
			persister = source.NewHTTPClient(sc.BaseURL, sc.Token)
		}
		return ics.NewSource(feeds, cacheDir, ics.WithMaxOccurrences(sc.MaxOccurrences)), persister

	default:
		appLog.Info("using in-memory demo appointments")
		mem := source.Demo(time.Now(), conv.Work())
		return mem, mem
	}
}

// startCapture re-captures the preview whenever a refresh rebuilds the
// store. Rebuilds that arrive while a capture runs are coalesced.
func startCapture(ctx context.Context, conf *config.Config, store *calendar.Store) {
	trigger := make(chan struct{}, 1)
	store.Subscribe(func(ch calendar.Change) {
		if ch.Kind != calendar.ChangeRebuilt {
			return
		}
		select {
		case trigger <- struct{}{}:
		default:
		}
	})

	opts := capture.Options{
		URL:        "http://" + conf.Listen + "/calendar",
		OutputPath: conf.Capture.OutputPath,
		Width:      conf.Capture.Width,
		Height:     conf.Capture.Height,
	}
	go func() {
		// Let the HTTP server come up before the first capture.
		timer := time.NewTimer(2 * time.Second)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		for {
			if err := capture.CalendarPNG(ctx, opts); err != nil {
				appLog.Error("preview capture failed", err, "url", opts.URL)
			}
			select {
			case <-ctx.Done():
				return
			case <-trigger:
			}
		}
	}()
}

func printSummary(store *calendar.Store) {
	counts := store.Summary()
	fmt.Printf("events: %d\n", len(store.Snapshot()))
	for _, st := range model.AllStatuses {
		fmt.Printf("  %-12s %d\n", st, counts[st])
	}
}

func resolveLocationOrUTC(name string) *time.Location {
	loc, err := tz.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to UTC", err, "name", name)
		return time.UTC
	}
	return loc
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/fieldcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one refresh, print per-status counts and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
