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
	"syscall"
	"time"

	"github.com/nicktill/whisperflux/pkg/batch"
	"github.com/nicktill/whisperflux/pkg/checkpoint"
	checkpointbadger "github.com/nicktill/whisperflux/pkg/checkpoint/badger"
	"github.com/nicktill/whisperflux/pkg/config"
	"github.com/nicktill/whisperflux/pkg/convert"
	"github.com/nicktill/whisperflux/pkg/discover"
	"github.com/nicktill/whisperflux/pkg/influx"
	"github.com/nicktill/whisperflux/pkg/status"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var (
		configPath = flag.String("config", "", "path to the YAML run configuration (required)")
		simulate   = flag.Bool("simulate", false, "render lines into the run log instead of writing them")
		verbose    = flag.Bool("verbose", false, "with -simulate, also print every rendered line to stdout")
		workers    = flag.Int("workers", 0, "override the configured worker count")
	)
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: whisperflux -config <config.yml> [-simulate] [-verbose] [-workers n]")
		os.Exit(2)
	}

	// Every run keeps its own log file next to the working directory, with
	// everything mirrored to stderr.
	logPath := fmt.Sprintf("whisperflux_%s.log", time.Now().Format("20060102_150405"))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		log.Fatalf("❌ Failed to open run log: %v", err)
	}
	defer logFile.Close()
	log.SetOutput(io.MultiWriter(os.Stderr, logFile))

	log.Println("🚀 Starting whisperflux...")
	log.Printf("📝 Run log: %s", logPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}

	window, err := cfg.Window(time.Now())
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	log.Printf("⚙️  Window: %s to %s",
		time.Unix(window.From, 0).UTC().Format(time.RFC3339),
		time.Unix(window.Until, 0).UTC().Format(time.RFC3339))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The database is only dialed when something actually needs it: influx
	// discovery, or a live (non-simulated) influx output. A run that cannot
	// reach it must fail here, before any archive is read.
	var client *influx.Client
	needsDB := cfg.Discovery.Mode == config.DiscoverInflux ||
		(!*simulate && cfg.Output.Mode == config.OutputInflux)
	if needsDB {
		client, err = influx.New(influx.Options{
			URL:                cfg.InfluxDB.URL,
			Username:           cfg.InfluxDB.User,
			Password:           cfg.InfluxDB.Password,
			Timeout:            cfg.InfluxDB.Timeout.Std(),
			InsecureSkipVerify: cfg.InfluxDB.InsecureSkipVerify,
		})
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		if err := client.Ping(ctx); err != nil {
			log.Fatalf("❌ Database unreachable, aborting before any archive is read: %v", err)
		}
		log.Printf("✅ Database reachable at %s", cfg.InfluxDB.URL)
	}

	source := buildSource(cfg, client, window.From)
	log.Printf("🔍 Discovery source: %s", source.Name())

	// A simulated run must leave no trace: no database writes and no
	// checkpoint entries that a later live run would trust.
	if *simulate && cfg.Checkpoint.Enabled {
		log.Println("⏭️  Simulation run: leaving checkpoints untouched")
		cfg.Checkpoint.Enabled = false
	}

	var checkpoints checkpoint.Store
	if cfg.Checkpoint.Enabled {
		checkpoints, err = checkpointbadger.New(checkpointbadger.Config{Path: cfg.Checkpoint.Dir})
		if err != nil {
			log.Fatalf("❌ Failed to open checkpoint store: %v", err)
		}
		defer checkpoints.Close()
		log.Printf("💾 Checkpoints: %s", cfg.Checkpoint.Dir)
	}

	sink, err := buildSink(cfg, client, *simulate, *verbose)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	converter, err := convert.New(convert.Options{
		Source:      source,
		Sink:        sink,
		Checkpoints: checkpoints,
		BasePath:    cfg.BasePath,
		From:        window.From,
		Until:       window.Until,
		BatchSize:   cfg.BatchSize,
		Precision:   cfg.Precision,
		Workers:     cfg.Workers,
		ReadTimeout: cfg.ReadTimeout.Std(),
	})
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	if cfg.StatusAddr != "" {
		srv := status.New(cfg.StatusAddr, converter.Progress(), checkpoints)
		if err := srv.Start(ctx); err != nil {
			log.Fatalf("❌ %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("⚠️  Status server shutdown warning: %v", err)
			}
		}()
	}

	if *simulate {
		log.Println("🧪 Simulation run: nothing will be written")
	}

	summary, runErr := converter.Run(ctx)

	// The sink closes before the verdict: a file output must finish its
	// gzip stream even after a partial run.
	if err := sink.Close(); err != nil {
		log.Printf("❌ Failed to finish output: %v", err)
		if runErr == nil {
			runErr = err
		}
	}

	log.Printf("📊 %s", summary)

	switch {
	case runErr == nil:
		log.Println("✅ Conversion finished")
	case errors.Is(runErr, context.Canceled):
		log.Println("🛑 Interrupted; rerun with checkpointing enabled to resume")
	default:
		log.Fatalf("❌ Conversion failed: %v", runErr)
	}
}

// buildSource picks the discovery strategy. Validation already limited the
// mode to the three known ones.
func buildSource(cfg *config.Config, client *influx.Client, from int64) discover.Source {
	switch cfg.Discovery.Mode {
	case config.DiscoverWalk:
		return &discover.WalkSource{Base: cfg.BasePath}
	case config.DiscoverCSV:
		return &discover.CSVSource{Path: cfg.Discovery.CSVPath}
	default:
		return &discover.InfluxSource{Client: client, DB: cfg.InfluxDB.SourceDB, From: from}
	}
}

// buildSink picks where rendered lines go. Simulation wins over everything.
func buildSink(cfg *config.Config, client *influx.Client, simulate, verbose bool) (batch.Sink, error) {
	if simulate {
		return &batch.SimulationSink{Verbose: verbose}, nil
	}
	if cfg.Output.Mode == config.OutputFile {
		sink, err := batch.NewFileSink(cfg.Output.File)
		if err != nil {
			return nil, err
		}
		log.Printf("📦 Output file: %s", cfg.Output.File)
		return sink, nil
	}
	log.Printf("✍️  Writing to %s db=%s", cfg.InfluxDB.URL, cfg.InfluxDB.TargetDB)
	return batch.NewInfluxSink(client, cfg.InfluxDB.TargetDB, cfg.Precision), nil
}
