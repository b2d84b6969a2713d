package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/scenewatch/internal/config"
	"github.com/banshee-data/scenewatch/internal/monitoring"
	"github.com/banshee-data/scenewatch/internal/version"
	"github.com/banshee-data/scenewatch/internal/vision/l4perception"
	"github.com/banshee-data/scenewatch/internal/vision/l5tracks"
	"github.com/banshee-data/scenewatch/internal/vision/l6scene"
	"github.com/banshee-data/scenewatch/internal/vision/monitor"
	"github.com/banshee-data/scenewatch/internal/vision/pipeline"
	"github.com/banshee-data/scenewatch/internal/vision/replay"
	"github.com/banshee-data/scenewatch/internal/vision/report"
	"github.com/banshee-data/scenewatch/internal/vision/storage/sqlite"
)

var (
	configFile  = flag.String("config", "", "Path to tuning JSON (default: "+config.DefaultConfigPath+" when present)")
	inputs      = flag.String("input", "", "Comma-separated JSONL detection logs, one stream per file")
	dbFile      = flag.String("db", "", "Path to the SQLite database file (empty disables persistence)")
	reportFile  = flag.String("report", "", "Write an HTML timeline report to this path")
	listen      = flag.String("listen", "", "HTTP listen address for the monitor (empty disables it)")
	hold        = flag.Bool("hold", false, "Keep serving HTTP after replay finishes until interrupted")
	diagLog     = flag.Bool("diag", false, "Enable diagnostic logging (sessions, scene events)")
	traceLog    = flag.Bool("trace", false, "Enable per-frame trace logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// options is the parsed command line.
type options struct {
	ConfigPath string
	Inputs     []string
	DBPath     string
	ReportPath string
	Listen     string
	Hold       bool
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("scenewatch", version.String())
		return
	}

	opts := options{
		ConfigPath: *configFile,
		Inputs:     splitInputs(*inputs),
		DBPath:     *dbFile,
		ReportPath: *reportFile,
		Listen:     *listen,
		Hold:       *hold,
	}
	if len(opts.Inputs) == 0 {
		log.Fatal("at least one -input file is required")
	}

	setupLogging(os.Stderr, *diagLog, *traceLog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("scenewatch: %v", err)
	}
}

// setupLogging routes the ops stream of every layer to w and optionally the
// diag and trace streams.
func setupLogging(w io.Writer, diag, trace bool) {
	var diagW, traceW io.Writer
	if diag {
		diagW = w
	}
	if trace {
		traceW = w
	}
	l5tracks.SetLogWriters(w, diagW, traceW)
	l6scene.SetLogWriters(w, diagW, traceW)
	pipeline.SetLogWriters(w, diagW, traceW)
}

func splitInputs(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// streamNames derives one unique stream name per input from its base name.
func streamNames(paths []string) []string {
	names := make([]string, len(paths))
	seen := make(map[string]int)
	for i, p := range paths {
		base := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		if base == "" {
			base = "stream"
		}
		seen[base]++
		if n := seen[base]; n > 1 {
			base = fmt.Sprintf("%s-%d", base, n)
		}
		names[i] = base
	}
	return names
}

// loadTuning reads path, or the default file when path is empty. A missing
// default file falls back to the built-in defaults.
func loadTuning(path string) (*config.TuningConfig, error) {
	if path != "" {
		return config.LoadTuningConfig(path)
	}
	cfg, err := config.LoadTuningConfig(config.DefaultConfigPath)
	if err != nil {
		monitoring.Logf("using built-in tuning defaults: %v", err)
		return config.DefaultTuningConfig(), nil
	}
	return cfg, nil
}

// run replays every input through its own stream and writes a summary to out.
func run(ctx context.Context, opts options, out io.Writer) error {
	tuning, err := loadTuning(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load tuning config: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics, err := monitoring.NewSceneMetrics(reg)
	if err != nil {
		return err
	}

	var store *sqlite.SceneStore
	if opts.DBPath != "" {
		db, err := sqlite.Open(opts.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		store = sqlite.NewSceneStore(db.DB)
	}

	registry := pipeline.NewRegistry()
	names := streamNames(opts.Inputs)
	files := make([]*replay.File, len(opts.Inputs))
	defer func() {
		for _, f := range files {
			if f != nil {
				f.Close()
			}
		}
	}()

	var jobs []pipeline.Job
	var feeds []func(context.Context) error
	for i, path := range opts.Inputs {
		f, err := replay.OpenFile(path)
		if err != nil {
			return err
		}
		files[i] = f

		cfg := pipeline.StreamConfigFromTuning(names[i], tuning)
		cfg.Metrics = metrics
		cfg.Timeline = report.NewTimeline(0)
		if store != nil {
			cfg.Store = store
		}
		s, err := pipeline.NewStream(cfg)
		if err != nil {
			return err
		}
		defer s.Close()
		registry.Add(s)

		ch := make(chan l4perception.Frame, 64)
		jobs = append(jobs, pipeline.Job{Stream: s, Frames: ch})
		feeds = append(feeds, func(ctx context.Context) error {
			defer close(ch)
			return f.Feed(ctx, ch)
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	serverDone := make(chan error, 1)
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	if opts.Listen != "" {
		ws := monitor.NewWebServer(monitor.WebServerConfig{
			Address:  opts.Listen,
			Streams:  registry,
			Gatherer: reg,
			Store:    store,
		})
		go func() { serverDone <- ws.Start(serverCtx) }()
	} else {
		close(serverDone)
	}

	for _, feed := range feeds {
		feed := feed
		g.Go(func() error { return feed(gctx) })
	}
	g.Go(func() error { return pipeline.RunStreams(gctx, jobs...) })
	if err := g.Wait(); err != nil {
		return err
	}

	for _, s := range registry.Streams() {
		writeSummary(out, s)
	}

	if opts.ReportPath != "" {
		if err := writeReport(opts.ReportPath, registry); err != nil {
			return err
		}
		fmt.Fprintf(out, "timeline report written to %s\n", opts.ReportPath)
	}

	if opts.Listen != "" && opts.Hold {
		fmt.Fprintf(out, "serving monitor on %s; interrupt to exit\n", opts.Listen)
		<-ctx.Done()
	}
	stopServer()
	if err, ok := <-serverDone; ok && err != nil {
		return err
	}
	return nil
}

func writeSummary(out io.Writer, s *pipeline.Stream) {
	m := s.Monitor().Metrics()
	stats := s.Tracker().Stats()
	fmt.Fprintf(out, "%s: session=%s frames=%d tracks_created=%d tracks_confirmed=%d baseline=%t missing=%d new=%d peak_missing=%d peak_new=%d\n",
		s.Name(), m.SessionID, m.FramesProcessed, stats.TracksCreated, stats.TracksConfirmed,
		m.BaselineEstablished, m.CurrentMissing, m.CurrentNew, m.PeakMissing, m.PeakNew)
}

func writeReport(path string, registry *pipeline.Registry) error {
	var series []report.Series
	for _, s := range registry.Streams() {
		series = append(series, report.Series{Name: s.Name(), Points: s.Timeline().Points()})
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := report.Render(f, series...); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
