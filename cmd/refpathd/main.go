package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/banshee-data/refpath/internal/api"
	"github.com/banshee-data/refpath/internal/chassis"
	"github.com/banshee-data/refpath/internal/config"
	"github.com/banshee-data/refpath/internal/db"
	"github.com/banshee-data/refpath/internal/monitoring"
	"github.com/banshee-data/refpath/internal/planner"
	"github.com/banshee-data/refpath/internal/serialmux"
	"github.com/banshee-data/refpath/internal/version"
)

var (
	devMode     = flag.Bool("dev", false, "Run against a simulated gateway instead of the serial port")
	listen      = flag.String("listen", ":8080", "Listen address")
	dbPath      = flag.String("db", "refpath.db", "Path to the sqlite database")
	configPath  = flag.String("config", "", "Path to a tuning JSON file (defaults are built in)")
	port        = flag.String("port", "/dev/ttyUSB0", "Gateway serial port (ignored in dev mode)")
	baud        = flag.Int("baud", serialmux.DefaultBaudRate, "Gateway baud rate")
	verbose     = flag.Bool("verbose", false, "Log every control loop tick")
	showVersion = flag.Bool("version", false, "Print the version and exit")
	notes       = flag.String("notes", "", "Free-form note stored with this run")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags]\n       %s migrate <action> [args]\n\nFlags:\n", os.Args[0], os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if flag.NArg() > 0 && flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}
	if flag.NArg() > 0 {
		usage()
		os.Exit(2)
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	monitoring.SetVerbose(*verbose)

	tuning, err := loadTuning(*configPath)
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}

	// one service per database file
	lock := flock.New(*dbPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		log.Fatalf("failed to lock %s: %v", lock.Path(), err)
	}
	if !locked {
		log.Fatalf("another refpathd is already using %s", *dbPath)
	}
	defer lock.Unlock()

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	runID, err := database.StartRun(db.RunConfig{
		MinPathLength: tuning.GetMinPathLength(),
		MaxLatChange:  tuning.GetMaxLatChange(),
		UseRouting:    tuning.GetUseRouting(),
		Version:       version.Version,
		Notes:         *notes,
	})
	if err != nil {
		log.Fatalf("failed to start run: %v", err)
	}
	log.Printf("started run %s (%s)", runID, version.String())

	var gateway serialmux.SerialMuxInterface
	if *devMode {
		gateway = serialmux.NewMockSerialMux(devGatewayLines(50), 20*time.Millisecond)
	} else {
		gateway, err = serialmux.NewRealSerialMux(*port, serialmux.PortOptions{BaudRate: *baud})
		if err != nil {
			log.Fatalf("gateway: %v", err)
		}
	}
	defer gateway.Close()

	feed := chassis.NewFeed(nil, chassis.MaxAgesFromTuning(tuning))
	p, err := planner.New(planner.ConfigFromTuning(tuning), planner.Sources{
		Perception:   feed,
		Routing:      feed,
		Localization: feed,
		Speed:        feed,
	}, database.PathRecorder(runID))
	if err != nil {
		log.Fatalf("failed to create planner: %v", err)
	}

	// Create a wait group for the HTTP server, gateway monitor, feed and planner routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor gateway port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := feed.Run(ctx, gateway); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("gateway feed stopped: %v", err)
		}
		log.Print("feed routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("planner stopped: %v", err)
		}
		log.Print("planner routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(p, database, runID, tuning).ServeMux()
		gateway.AttachAdminRoutes(mux)
		database.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// loadTuning reads path, or returns the built-in defaults when path is empty.
func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.EmptyTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}
