package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/rssi.locate/internal/api"
	"github.com/banshee-data/rssi.locate/internal/config"
	"github.com/banshee-data/rssi.locate/internal/fingerprintdb"
	"github.com/banshee-data/rssi.locate/internal/health"
	"github.com/banshee-data/rssi.locate/internal/localization"
	"github.com/banshee-data/rssi.locate/internal/monitoring"
	"github.com/banshee-data/rssi.locate/internal/publish"
	"github.com/banshee-data/rssi.locate/internal/serialmux"
)

// devLines are replayed in dev mode when no fixture file is given.
var devLines = []string{
	`{"firmware":"dev","scanning":true}`,
	"-58,kitchen-beacon",
	"-74,hall-beacon",
	"-86,porch-beacon",
	"-60,kitchen-beacon",
	"-72,hall-beacon",
}

func loadConfig(path string) (*config.LocalizationConfig, error) {
	if path == "" {
		return config.DefaultLocalizationConfig(), nil
	}
	cfg, err := config.LoadLocalizationConfig(path)
	if err != nil {
		return nil, err
	}
	log.Printf("loaded localization config from %s", path)
	return cfg, nil
}

func loadFixtureLines(path string) ([]string, error) {
	if path == "" {
		return devLines, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixtures file: %w", err)
	}
	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		if l = strings.TrimSpace(l); l != "" && !strings.HasPrefix(l, "#") {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("fixtures file %s has no scan lines", path)
	}
	return lines, nil
}

func openScanner() (serialmux.SerialMuxInterface, error) {
	switch {
	case *devMode:
		lines, err := loadFixtureLines(*fixtures)
		if err != nil {
			return nil, err
		}
		return serialmux.NewMockSerialMux(lines, 200*time.Millisecond), nil
	case *port == "":
		log.Printf("no scanner port configured; measurements arrive over HTTP only")
		return serialmux.NewDisabledSerialMux(), nil
	default:
		m, err := serialmux.NewRealSerialMux(*port, serialmux.PortOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to open scanner port %s: %w", *port, err)
		}
		return m, nil
	}
}

// locationSink fans each update out to the history table and the MQTT
// publisher. Either may be nil.
func locationSink(db *fingerprintdb.DB, pub *publish.Publisher) localization.Callback {
	return func(u localization.LocationUpdate) {
		if db != nil {
			err := db.RecordLocation(fingerprintdb.LocationRecord{
				SphereID:    u.SphereID,
				LocationID:  u.LocationID,
				Known:       u.Known,
				Confidence:  u.Confidence,
				TimestampMs: u.TimestampMs,
			})
			if err != nil {
				log.Printf("failed to record location: %v", err)
			}
		}
		if pub != nil {
			pub.Enqueue(u)
		}
	}
}

// pruneHistory deletes history older than retention once an hour.
func pruneHistory(ctx context.Context, db *fingerprintdb.DB, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		cutoff := time.Now().Add(-retention).UnixMilli()
		if n, err := db.PruneLocations(cutoff); err != nil {
			log.Printf("failed to prune location history: %v", err)
		} else if n > 0 {
			log.Printf("pruned %d location history rows", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func serve() error {
	if *listen == "" {
		return fmt.Errorf("listen address is required")
	}
	monitoring.SetVerbose(*verbose)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []localization.Option{localization.WithConfig(cfg)}
	var db *fingerprintdb.DB
	if *dbPath != "" {
		db, err = fingerprintdb.Open(*dbPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		opts = append(opts, localization.WithStoreListener(fingerprintdb.Mirror{DB: db}))
	}

	engine, err := localization.New(opts...)
	if err != nil {
		return err
	}
	defer engine.StopLocalization()
	engine.SetSphere(*sphere)

	if db != nil {
		// Restored rows pass through the mirror and are rewritten unchanged.
		n, err := db.LoadInto(engine)
		if err != nil {
			return fmt.Errorf("failed to restore fingerprints: %w", err)
		}
		log.Printf("restored %d fingerprints from %s", n, *dbPath)
	}

	scanner, err := openScanner()
	if err != nil {
		return err
	}
	defer scanner.Close()
	if err := scanner.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize scanner: %w", err)
	}

	var pub *publish.Publisher
	if *mqttBroker != "" {
		pub, err = publish.Dial(ctx, publish.Config{
			Broker:      *mqttBroker,
			ClientID:    "rssi-locate",
			TopicPrefix: *mqttTopic,
		})
		if err != nil {
			return err
		}
		defer pub.Close()
	}

	callback := locationSink(db, pub)
	state := &serialmux.DeviceState{}

	var wg sync.WaitGroup

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := scanner.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// feed scanned measurements into the engine
	wg.Add(1)
	go func() {
		defer wg.Done()
		serialmux.Consume(ctx, scanner, engine, state, func() int64 { return time.Now().UnixMilli() })
		log.Print("subscribe routine terminated")
	}()

	if pub != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pub.Run(ctx)
		}()
	}

	if db != nil && *historyRetention > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pruneHistory(ctx, db, *historyRetention)
		}()
	}

	if *grpcListen != "" {
		hs := health.NewServer(*grpcListen)
		if err := hs.Start(); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
		defer hs.Stop()
		wg.Add(1)
		go func() {
			defer wg.Done()
			hs.Watch(ctx, engine.Localizing, time.Second)
		}()
	}

	if *localize {
		engine.StartLocalization(callback)
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiServer := api.NewServer(engine, callback)
		apiServer.SetScanner(state)
		if db != nil {
			apiServer.SetHistory(db)
		}
		mux := apiServer.ServeMux()
		apiServer.AttachAdminRoutes(mux)
		scanner.AttachAdminRoutes(mux)
		if db != nil {
			if err := db.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach database admin routes: %v", err)
			}
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("HTTP server listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("failed to start server: %v", err)
				stop()
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
	return nil
}
