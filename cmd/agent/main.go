package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cleverdesk/printing-agent/internal/api"
	"github.com/cleverdesk/printing-agent/internal/archive"
	"github.com/cleverdesk/printing-agent/internal/config"
	"github.com/cleverdesk/printing-agent/internal/pdf"
	"github.com/cleverdesk/printing-agent/internal/printer"
	"github.com/cleverdesk/printing-agent/internal/remote"
	"github.com/cleverdesk/printing-agent/internal/settings"
	"github.com/cleverdesk/printing-agent/internal/spool"
)

const version = "1.3.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath := os.Getenv("AGENT_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	st := settings.Open(cfg.Storage.SettingsPath)

	materializer := pdf.NewMaterializer(cfg.Printing.DownloadTimeout)
	executor := printer.NewExecutor(cfg.Printing.PrintTimeout, func() string {
		return st.GetString(settings.KeySumatraPath, "")
	})
	enumerator := printer.NewEnumerator(cfg.Printing.EnumerateTimeout)

	spooler := spool.New(materializer, executor, st, cfg.Storage.HistorySize)

	var archiver *archive.Archiver
	var archiveEvents chan spool.Event
	archiver, err = archive.Open(cfg.Storage.ArchivePath)
	if err != nil {
		log.Printf("[agent] job archive unavailable: %v", err)
		archiver = nil
	} else {
		archiveEvents = spooler.Subscribe()
		archiver.Watch(archiveEvents)
	}

	remoteClient := remote.New(st, spooler, version)

	server := api.NewServer(spooler, enumerator, st, archiver, remoteClient)
	hubEvents := spooler.Subscribe()
	server.Hub().Watch(hubEvents)

	spooler.Start()

	port := st.GetInt(settings.KeyAPIPort, settings.DefaultAPIPort)
	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", port),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("[agent] local API listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server: %v", err)
		}
	}()

	remoteClient.Start()

	log.Printf("[agent] CleverPrintingAgent %s ready", version)
	<-ctx.Done()
	log.Printf("[agent] shutting down")

	// Teardown runs in reverse of startup: remote client, API server,
	// spooler, archive.
	remoteClient.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[agent] api shutdown: %v", err)
	}

	spooler.Shutdown()

	// All event producers are stopped, the subscriptions can drain out.
	if archiveEvents != nil {
		spooler.Unsubscribe(archiveEvents)
		close(archiveEvents)
	}
	spooler.Unsubscribe(hubEvents)
	close(hubEvents)

	if archiver != nil {
		if err := archiver.Close(); err != nil {
			log.Printf("[agent] archive close: %v", err)
		}
	}

	log.Printf("[agent] stopped")
}
