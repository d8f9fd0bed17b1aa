package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"felicad/dedup"
	"felicad/dispatch"
	"felicad/indicator"
	"felicad/mqtt"
	"felicad/pipeline"
	"felicad/poller"
	"felicad/port"
	"felicad/reader"
	"felicad/sound"
	"felicad/status"
	"felicad/telemetry"
	"felicad/usbdev"
)

var myBuild = "dev"

var (
	app        = kingpin.New("felicad", "Polls every attached FeliCa reader and posts each new card touch to the scan API.")
	configFile = app.Flag("config", "Configuration file.").Short('c').Default("/etc/felicad/felicad.yml").String()

	runCmd     = app.Command("run", "Poll the readers and dispatch scans.").Default()
	readersCmd = app.Command("readers", "List attached FeliCa readers and their logical ports.")
	portsCmd   = app.Command("ports", "Print the hub topology and port classes.")
)

func main() {
	app.Version(myBuild)
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, loaded, err := LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "felicad: %v\n", err)
		os.Exit(2)
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "felicad: %v\n", err)
		os.Exit(2)
	}
	if !loaded {
		log.Warnf("Config file %s not found, using defaults", *configFile)
	}

	table, err := port.NewTable(cfg.Ports)
	if err != nil {
		log.WithError(err).Fatal("Invalid port topology")
	}

	switch cmd {
	case runCmd.FullCommand():
		os.Exit(run(cfg, table, log))
	case readersCmd.FullCommand():
		listReaders(os.Stdout, usbdev.New(cfg.SysRoot, log), table, dedup.NewPolicy(cfg.Dedup))
	case portsCmd.FullCommand():
		listPorts(os.Stdout, table, dedup.NewPolicy(cfg.Dedup))
	default:
		kingpin.FatalUsage("Unrecognized command")
	}
}

// run starts every backend and blocks until SIGINT/SIGTERM or until no
// backend is left running. It returns the process exit status.
func run(cfg Config, table *port.Table, log *logrus.Logger) int {
	log.Infof("felicad build %s starting (client %s)", myBuild, cfg.ClientID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "felicad", cfg.Telemetry)
	if err != nil {
		log.WithError(err).Warn("Tracing disabled")
	}
	defer shutdownTracing(context.Background())

	var audio indicator.Indicator
	if !cfg.Sound.Disabled {
		player := sound.NewPlayer(cfg.Sound, log)
		player.Start(ctx)
		audio = indicator.NewAudio(player, cfg.Sound)
	}
	ind, err := indicator.New(cfg.Indicator, audio)
	if err != nil {
		log.WithError(err).Error("Init indicator")
		return 1
	}
	defer ind.Release()
	ind.Idle()

	store, err := dedup.NewStore(cfg.Dedup)
	if err != nil {
		log.WithError(err).Error("Init dedup store")
		return 1
	}
	defer store.Close()

	policy := dedup.NewPolicy(cfg.Dedup)
	engine := dedup.NewEngine(store, policy, log)
	sweeper := dedup.NewSweeper(store, policy.Window, cfg.Dedup.SweepInterval, log)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	transport, err := dispatch.NewHTTPTransport(cfg.API)
	if err != nil {
		log.WithError(err).Error("Init API transport")
		return 1
	}
	log.Infof("Posting scans to %s", transport.URL())

	mq, err := mqtt.New(cfg.MQTT, cfg.ClientID, log)
	if err != nil {
		log.WithError(err).Error("Init MQTT")
		return 1
	}
	go func() {
		if err := mq.Connect(); err != nil {
			log.WithError(err).Warn("MQTT connect")
		}
	}()
	go mq.RunPing(ctx)
	defer mq.Disconnect()

	pipe := pipeline.New(engine, dispatch.New(transport, policy, ind, mq, log), ind, log)

	if cfg.Status.Addr != "" {
		srv := status.NewServer(cfg.Status.Addr, pipe, log)
		go func() {
			if err := srv.Start(); err != nil {
				log.WithError(err).Error("Status server")
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(sctx)
		}()
	}

	backends := buildBackends(cfg.Readers, usbdev.New(cfg.SysRoot, log), table, pipe, log)
	if len(backends) == 0 {
		log.Error("No usable readers configured")
		return 1
	}

	failed := runBackends(ctx, backends)
	if failed == len(backends) {
		log.Error("All readers failed, exiting")
		return 1
	}
	log.Info("Shutdown complete")
	return 0
}

func buildBackends(cfgs []reader.Config, enum *usbdev.Enumerator, table *port.Table, h poller.Handler, log logrus.FieldLogger) []*poller.Backend {
	var backends []*poller.Backend
	for _, rc := range cfgs {
		if rc.Disabled {
			continue
		}
		r, err := reader.New(rc, enum, log)
		if err != nil {
			log.WithError(err).Error("Skipping reader")
			continue
		}
		backends = append(backends, poller.New(r, rc, table, h, log))
	}
	return backends
}

// runBackends runs each backend in its own goroutine and returns how
// many ended with an error.
func runBackends(ctx context.Context, backends []*poller.Backend) int {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for _, b := range backends {
		wg.Add(1)
		go func(b *poller.Backend) {
			defer wg.Done()
			if err := b.Run(ctx); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(b)
	}
	wg.Wait()
	return failed
}

func listReaders(w io.Writer, enum *usbdev.Enumerator, table *port.Table, policy dedup.Policy) {
	readers := enum.List()
	if len(readers) == 0 {
		fmt.Fprintln(w, "No FeliCa readers found.")
		return
	}
	fmt.Fprintln(w, " Path       │ USB ID    │ Model    │ Port │ Class")
	fmt.Fprintln(w, "────────────┼───────────┼──────────┼──────┼────────")
	for _, r := range readers {
		n := table.Lookup(r.Path)
		fmt.Fprintf(w, " %-10s │ %s:%s │ %-8s │ %4s │ %s\n",
			r.Path, r.VendorID, r.ProductID, r.Model, n, policy.Classify(n))
	}
}

func listPorts(w io.Writer, table *port.Table, policy dedup.Policy) {
	fmt.Fprintln(w, " Port │ Path       │ Class")
	fmt.Fprintln(w, "──────┼────────────┼────────")
	for _, e := range table.Entries() {
		fmt.Fprintf(w, " %4s │ %-10s │ %s\n", e.Port, e.Path, policy.Classify(e.Port))
	}
}
