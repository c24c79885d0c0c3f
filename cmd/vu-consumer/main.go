package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Shy/vu-consumer/internal/battery"
	"github.com/Shy/vu-consumer/internal/calendar"
	"github.com/Shy/vu-consumer/internal/capture"
	"github.com/Shy/vu-consumer/internal/config"
	"github.com/Shy/vu-consumer/internal/countdown"
	appLog "github.com/Shy/vu-consumer/internal/log"
	"github.com/Shy/vu-consumer/internal/render"
	"github.com/Shy/vu-consumer/internal/vu"
	"github.com/Shy/vu-consumer/internal/weather"
	"github.com/Shy/vu-consumer/internal/web"
)

var (
	_ countdown.Sink = (*vu.Client)(nil)
	_ weather.Sink   = (*vu.Client)(nil)
	_ web.Countdown  = (*countdown.Scheduler)(nil)
	_ web.Weather    = (*weather.Updater)(nil)
)

type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
	dump       bool
}

func main() {
	appLog.Info("vu-consumer starting", "version", "0.1.0")

	flags := parseFlags()

	if loaded, err := config.LoadDotEnv(splitList(flags.envFile)...); err != nil {
		appLog.Error("failed to load env file", err, "env", flags.envFile)
		os.Exit(1)
	} else if loaded {
		appLog.Debug("env file loaded", "env", flags.envFile)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		if conf == nil {
			appLog.Error("failed to load config", err, "config_path", flags.configPath)
			os.Exit(1)
		}
		appLog.Warn("could not write default config; continuing with defaults", "config_path", flags.configPath, "err", err)
	}
	conf.ApplyEnv(os.Getenv)
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	conf.Normalize()
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"vu", conf.VU.BaseURL,
		"weather", conf.Weather.Enabled,
		"countdown", conf.Countdown.Enabled,
		"calendars", len(conf.Calendar.Sources),
		"timezone", conf.Calendar.Timezone,
		"once", flags.once,
		"dump", flags.dump,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags); err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("vu-consumer failed", err)
		os.Exit(1)
	}
	appLog.Info("vu-consumer exiting")
}

func run(parent context.Context, conf *config.Config, flags flagConfig) error {
	ctx, stop := context.WithCancel(parent)
	defer stop()

	dials, err := vu.New(conf.VU.BaseURL, conf.VU.Key, &http.Client{
		Timeout: time.Duration(conf.VU.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	weatherDial, calendarDial, err := resolveDials(ctx, dials, conf)
	if err != nil {
		return err
	}

	renderer := render.New(loadIcons(ctx, conf))

	var updater *weather.Updater
	if conf.Weather.Enabled && weatherDial != "" {
		nws := weather.NewClient("", conf.Weather.UserAgent, nil)
		updater, err = weather.NewUpdater(nws, dials, renderer, weatherDial, conf.Weather)
		if err != nil {
			return err
		}
		if err := updater.Setup(ctx); err != nil {
			// Update retries the setup, so a flaky NWS at boot is not fatal.
			appLog.Error("weather dial setup failed", err, "dial", weatherDial)
		}
	}

	var (
		sched  *countdown.Scheduler
		router *calendar.Router
	)
	if conf.Countdown.Enabled && calendarDial != "" {
		calClient := &http.Client{Timeout: time.Duration(conf.Calendar.FetchTimeoutSeconds) * time.Second}
		router, err = calendar.FromConfig(ctx, conf, calClient)
		if err != nil {
			appLog.Error("calendar setup incomplete", err)
		}
		sched, err = newScheduler(conf, router, renderer, dials, calendarDial)
		if err != nil {
			return err
		}
	}

	if flags.once {
		return runOnce(ctx, conf, flags, updater, sched)
	}

	var wg sync.WaitGroup

	c := cron.New(cron.WithLogger(appLog.Cron()))
	if updater != nil {
		if _, err := updater.Schedule(ctx, c); err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := updater.Update(ctx); err != nil {
				appLog.Error("initial weather update failed", err)
			}
		}()
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	if sched != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				appLog.Error("countdown scheduler stopped", err)
			}
		}()
	}

	deps := web.Deps{Battery: battery.FromConfig(conf.Battery)}
	if sched != nil {
		deps.Countdown = sched
	}
	if updater != nil {
		deps.Weather = updater
	}
	if router != nil {
		deps.Calendars = router
	}
	err = web.NewServer(conf, deps).Run(ctx)
	if err != nil {
		appLog.Error("http server failed", err, "listen", conf.Listen)
	}
	// Stop the loops whether the server failed or ctx was cancelled.
	stop()
	wg.Wait()
	return err
}

func newScheduler(conf *config.Config, src calendar.Source, renderer *render.Renderer, sink countdown.Sink, dial string) (*countdown.Scheduler, error) {
	table, err := countdown.TableFromConfig(conf.Countdown)
	if err != nil {
		return nil, err
	}
	selector := countdown.NewSelector(src, conf.CalendarIDs(), countdown.SelectorOptions{
		MaxResults: conf.Calendar.MaxResults,
		Timeout:    time.Duration(conf.Calendar.FetchTimeoutSeconds) * time.Second,
		Concurrent: conf.Calendar.Concurrent,
	})
	return countdown.NewScheduler(countdown.Options{
		Selector: selector,
		Table:    table,
		Renderer: renderer,
		Sink:     sink,
		DialID:   dial,
	})
}

// resolveDials uses configured dial IDs, or asks VU-Server: the first dial
// shows the weather and the next one the countdown. With weather disabled
// the countdown takes the first dial.
func resolveDials(ctx context.Context, c *vu.Client, conf *config.Config) (weatherDial, calendarDial string, err error) {
	weatherDial, calendarDial = conf.VU.WeatherDial, conf.VU.CalendarDial
	needWeather := conf.Weather.Enabled && weatherDial == ""
	needCalendar := conf.Countdown.Enabled && calendarDial == ""
	if !needWeather && !needCalendar {
		return weatherDial, calendarDial, nil
	}

	first, second, err := c.FirstDials(ctx)
	if err != nil {
		return "", "", err
	}
	if !conf.Weather.Enabled {
		first, second = "", first
	}
	if needWeather {
		weatherDial = first
	}
	if needCalendar {
		calendarDial = second
		if calendarDial == "" {
			appLog.Warn("no dial left for the countdown; countdown disabled")
		}
	}
	appLog.Info("dials assigned", "weather", weatherDial, "calendar", calendarDial)
	return weatherDial, calendarDial, nil
}

// loadIcons rasterizes any SVG artwork and then loads the PNG overrides.
// Failures fall back to the built-in glyphs.
func loadIcons(ctx context.Context, conf *config.Config) render.IconSet {
	if conf.Icons.SVGDir != "" && conf.Icons.Dir != "" {
		n, err := capture.RasterizeDir(ctx, capture.Options{SVGDir: conf.Icons.SVGDir, PNGDir: conf.Icons.Dir})
		if err != nil {
			appLog.Error("icon rasterization failed", err, "svg_dir", conf.Icons.SVGDir)
		} else if n > 0 {
			appLog.Info("icons rasterized", "count", n, "dir", conf.Icons.Dir)
		}
	}
	icons, err := render.LoadIconDir(conf.Icons.Dir)
	if err != nil {
		appLog.Error("some icons failed to load", err, "dir", conf.Icons.Dir)
	}
	return icons
}

func runOnce(ctx context.Context, conf *config.Config, flags flagConfig, updater *weather.Updater, sched *countdown.Scheduler) error {
	var errs []error
	if updater != nil {
		if _, err := updater.Update(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if sched != nil {
		rep := sched.Cycle(ctx)
		appLog.Info("countdown cycle", "status", rep.Status, "next", rep.Next)
		if rep.Status == countdown.StatusNoop {
			errs = append(errs, errors.New(rep.Error))
		}
	}

	if flags.dump {
		if err := os.MkdirAll(conf.StateDir, 0o755); err != nil {
			errs = append(errs, err)
		} else {
			if updater != nil {
				errs = append(errs, dump(filepath.Join(conf.StateDir, "weather.png"), updater.Face()))
			}
			if sched != nil {
				errs = append(errs, dump(filepath.Join(conf.StateDir, "calendar.png"), sched.LastImage()))
			}
		}
	}
	return errors.Join(errs...)
}

func dump(path string, img []byte) error {
	if len(img) == 0 {
		return nil
	}
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return err
	}
	appLog.Info("dial image written", "path", path)
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/vu-consumer/config.yaml", "Path to config file")
	flag.StringVar(&cfg.envFile, "env", ".env", "Comma-separated .env files to load before reading config")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one weather update and one countdown cycle, then exit")
	flag.BoolVar(&cfg.dump, "dump", false, "With -once, write the rendered dial images to state_dir")

	flag.Parse()

	return cfg
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
