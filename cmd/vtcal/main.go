package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"vtcal/internal/auth"
	"vtcal/internal/calendar"
	"vtcal/internal/capture"
	"vtcal/internal/config"
	appLog "vtcal/internal/log"
	"vtcal/internal/match"
	"vtcal/internal/metrics"
	"vtcal/internal/model"
	"vtcal/internal/pipeline"
	"vtcal/internal/roster"
	"vtcal/internal/scheduler"
	"vtcal/internal/source"
	"vtcal/internal/store"
	"vtcal/internal/syncstate"
	"vtcal/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
	export     string
	connect    bool
	debug      bool
	chromium   string
}

func main() {
	flags := parseFlags()

	if err := godotenv.Load(flags.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		appLog.Warn("failed to read env file", "path", flags.envFile, "err", err)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv(os.Getenv)

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.debug {
		conf.LogLevel = "debug"
		conf.DBPath = "./cache/vtcal.db"
		conf.CacheDir = "./cache/page-cache"
	}

	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	if conf.LogFile != "" {
		appLog.SetOutputFile(appLog.FileOptions{
			Path:       conf.LogFile,
			MaxSizeMB:  conf.LogMaxSizeMB,
			MaxBackups: conf.LogMaxBackups,
			MaxAgeDays: conf.LogMaxAgeDays,
		})
	}
	defer appLog.Close()

	appLog.Info("vtcal starting", "version", "0.1.0")
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"db_path", conf.DBPath,
		"auto_sync", conf.Sync.AutoSync,
		"push_to_calendar", conf.Sync.PushToCalendar,
		"holodex_key", conf.Holodex.APIKey != "",
		"once", flags.once,
		"export", flags.export,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("vtcal failed", err)
		appLog.Close()
		os.Exit(1)
	}
	appLog.Info("vtcal exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	if err := os.MkdirAll(filepath.Dir(conf.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.Open(conf.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	rost := roster.New(st)
	matcher := match.Default()
	holodex := source.NewHolodex(conf.Holodex.BaseURL, nil)
	pages := source.NewPageFetcher(conf.CacheDir, nil)
	renderer := capture.NewRenderer(capture.Options{ExecPath: flags.chromium, Settle: 2 * time.Second})

	provider := auth.NewOAuthProvider(auth.Credentials{
		ClientID:     conf.Google.ClientID,
		ClientSecret: conf.Google.ClientSecret,
		RedirectURL:  conf.Google.RedirectURL,
	}, st, stdinPrompter)
	m := metrics.New()

	runner := pipeline.New(pipeline.Deps{
		Config: conf.Snapshot,
		Roster: rost,
		Sources: func(cfg config.Config, talents []model.Talent) []source.Source {
			return source.Build(cfg, talents, source.Options{Holodex: holodex, Pages: pages, Renderer: renderer})
		},
		Matcher:   matcher,
		Tracker:   syncstate.NewTracker(st, conf.Sync.KnownLimit),
		Notifier:  pipeline.LogNotifier{},
		Transport: calendar.NewGoogleTransport(provider),
		Auth:      provider,
		Metrics:   m,
	})

	if flags.connect {
		if _, err := provider.Token(ctx, true); err != nil {
			return fmt.Errorf("connect calendar: %w", err)
		}
		appLog.Info("calendar connected")
		return nil
	}

	if flags.once || flags.export != "" {
		return runOnce(ctx, runner, rost, matcher, flags.export)
	}

	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		appLog.Warn("unknown timezone, using local", "timezone", conf.Timezone)
		loc = time.Local
	}
	if conf.Sync.AutoSync {
		sched, err := scheduler.New(conf.RefreshCron, runner, loc)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()

		go func() {
			if _, err := runner.Run(ctx, pipeline.TriggerAuto); err != nil {
				appLog.Warn("initial refresh failed", "err", pipeline.UserMessage(err))
			}
		}()
	}

	srv := web.NewServer(web.Deps{
		Config:   conf.Snapshot,
		Pipeline: runner,
		Roster:   rost,
		Channels: func(apiKey string) web.ChannelLookup { return holodex.ForRun(apiKey, nil, nil) },
		Matcher:  matcher,
		Metrics:  m,
	})
	return srv.Serve(ctx, conf.Listen)
}

// runOnce runs a single refresh and optionally writes the schedule as an
// iCalendar file ("-" for stdout).
func runOnce(ctx context.Context, runner *pipeline.Runner, rost *roster.Roster, matcher *match.Matcher, exportPath string) error {
	res, err := runner.Run(ctx, pipeline.TriggerManual)
	if err != nil {
		return err
	}
	appLog.Info("refresh done", "events", len(res.Events), "new", len(res.New), "notice", res.Notice)

	if exportPath == "" {
		return nil
	}
	talents, err := rost.List(ctx)
	if err != nil {
		return err
	}
	body := calendar.ExportICS(res.Events, talents, matcher, time.Now().UTC())
	if exportPath == "-" {
		_, err = os.Stdout.WriteString(body)
		return err
	}
	if err := os.WriteFile(exportPath, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	appLog.Info("schedule exported", "path", exportPath, "events", len(res.Events))
	return nil
}

// stdinPrompter prints the consent URL and reads the pasted code.
func stdinPrompter(ctx context.Context, authURL string) (string, error) {
	fmt.Fprintf(os.Stderr, "Open this URL to allow calendar access:\n\n  %s\n\nPaste the authorization code: ", authURL)

	lines := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		lines <- strings.TrimSpace(line)
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case code := <-lines:
		if code == "" {
			return "", auth.ErrNotAuthenticated
		}
		return code, nil
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/vtcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.envFile, "env", ".env", "Path to a .env file with secrets")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one refresh and exit")
	flag.StringVar(&cfg.export, "export", "", "Run one refresh and write the schedule as .ics to this path (- for stdout)")
	flag.BoolVar(&cfg.connect, "connect", false, "Authorize calendar access interactively and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Debug logging and ./cache data paths")
	flag.StringVar(&cfg.chromium, "chromium", "", "Path to the Chromium binary for render_js sources")

	flag.Parse()

	return cfg
}
