package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"perpsim/internal/api"
	"perpsim/internal/exchange"
	"perpsim/internal/orderbook"
	"perpsim/internal/sim"
	"perpsim/internal/store"
)

func main() {
	scenarioPath := flag.String("scenario", "input.json", "scenario file (users, prices, events)")
	dbPath := flag.String("db", "perpsim.db", "SQLite run database path (empty = no recording)")
	serveAddr := flag.String("serve", "", "serve the API on this address after the run (empty = headless)")
	tickDelay := flag.Duration("tick", 0, "delay per simulated hour, for live observers")
	corsOrigins := flag.String("cors", "", "comma-separated allowed CORS origins (empty = allow all for dev)")
	flag.Parse()

	scenario, err := sim.Load(*scenarioPath)
	if err != nil {
		log.Fatalf("Failed to load scenario: %v", err)
	}

	ex, err := exchange.New(scenario.Users)
	if err != nil {
		log.Fatalf("Failed to construct exchange: %v", err)
	}

	var st *store.Store
	if *dbPath != "" {
		st, err = store.New(*dbPath)
		if err != nil {
			log.Fatalf("Failed to initialize run database: %v", err)
		}
		defer st.Close()
	}

	recordTrade := func(t orderbook.Trade) {
		if st == nil {
			return
		}
		if err := st.RecordTrade(t); err != nil {
			log.Printf("record trade: %v", err)
		}
	}

	var server *api.Server
	if *serveAddr != "" {
		server = api.NewServer(ex)
		server.OnTrade = recordTrade
		if *corsOrigins != "" {
			origins := strings.Split(*corsOrigins, ",")
			for i := range origins {
				origins[i] = strings.TrimSpace(origins[i])
			}
			server.SetCORSOrigins(origins)
			log.Printf("CORS restricted to: %v", origins)
		}
	}

	driver := sim.NewDriver(ex, scenario)
	driver.TickDelay = *tickDelay
	driver.OnTrade = func(t orderbook.Trade) {
		recordTrade(t)
		if server != nil {
			server.HandleTrade(t)
		}
	}
	driver.OnTick = func(hour int, mark decimal.Decimal) {
		if st != nil {
			if err := st.RecordTick(hour, mark); err != nil {
				log.Printf("record tick: %v", err)
			}
		}
		if server != nil {
			server.HandleTick(hour, mark)
		}
	}

	runAndReport := func() {
		log.Printf("Running scenario %s: %d users, %d hours, %d events",
			*scenarioPath, len(scenario.Users), len(scenario.Prices), len(scenario.Events))
		driver.Run()
		if st != nil {
			if err := st.SnapshotUsers(ex.UsersSnapshot()); err != nil {
				log.Printf("snapshot users: %v", err)
			}
		}
		sim.WriteReport(os.Stdout, ex)
	}

	if server == nil {
		runAndReport()
		return
	}

	httpServer := &http.Server{
		Addr:    *serveAddr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("Serving API on http://%s", *serveAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	go runAndReport()

	// Keep serving results until interrupted
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
}
