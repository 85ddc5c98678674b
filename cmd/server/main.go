/*
Package main implements the bridge status server.

The server derives user-meaningful statuses for a Bitcoin-backed token
bridge: the lifecycle status of issue/redeem requests and the collateral
health of vaults. Raw facts are fetched from three independent sources (an
Esplora Bitcoin API, the bridge's GraphQL indexer, and the parachain node's
head subscription) and reduced by pure derivation logic on every evaluation
pass. Results are served over an HTTP/JSON API with a WebSocket stream of
live updates.

Usage:

	go run main.go -listen=:8080 -indexer=http://localhost:4350/graphql \
		-esplora=https://blockstream.info/api -node=wss://node.example:9944 \
		-interval=15

The server keeps evaluating and serving until interrupted.
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"bridgewatch/internal/api"
	"bridgewatch/internal/btc"
	"bridgewatch/internal/parachain"
	"bridgewatch/internal/service"
)

// Command-line flags for configuring the server behavior
var (
	// listen specifies the address for the HTTP server to listen on
	listen = flag.String("listen", ":8080", "The HTTP listen address")
	// esploraURL is the base URL of the Esplora-compatible Bitcoin API
	esploraURL = flag.String("esplora", "https://blockstream.info/api", "Esplora API base URL")
	// indexerURL is the bridge indexer's GraphQL endpoint
	indexerURL = flag.String("indexer", "http://localhost:4350/graphql", "Bridge indexer GraphQL endpoint")
	// nodeURL is the parachain node WebSocket endpoint for head subscriptions;
	// when empty the indexer's active block number is used instead
	nodeURL = flag.String("node", "", "Parachain node WebSocket endpoint (optional)")
	// interval defines the background evaluation cadence in seconds
	interval = flag.Int("interval", 15, "Evaluation interval in seconds")
	// pageSize bounds how many requests each background pass evaluates
	pageSize = flag.Int("page-size", 50, "Requests evaluated per pass")
	// maxSubjects bounds subjects per stream subscription
	maxSubjects = flag.Int("max-subjects", 50, "Maximum subjects per stream subscription")
)

func main() {
	flag.Parse()

	// Initialize structured logger with timestamp and info level
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := validateConfig(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Collaborators: Bitcoin lookup, indexer, and optionally the node's head
	// subscription for the parachain active height.
	lookup, err := btc.NewEsploraClient(&btc.Config{BaseURL: *esploraURL})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create esplora client")
	}

	indexer, err := parachain.NewIndexerClient(&parachain.IndexerConfig{Endpoint: *indexerURL})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create indexer client")
	}

	var heights <-chan uint32
	if *nodeURL != "" {
		watcher, err := parachain.NewHeightWatcher(ctx, parachain.HeadsConfig{Endpoint: *nodeURL})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start height watcher")
		}
		defer watcher.Close()
		heights = watcher.Heights
	}

	evaluator, err := service.NewEvaluator(service.EvaluatorConfig{
		Interval: time.Duration(*interval) * time.Second,
		PageSize: *pageSize,
	}, lookup, indexer)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create evaluator")
	}

	updates, err := evaluator.Run(ctx, heights)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start evaluator")
	}

	dispatcher := service.NewDispatcher(service.DispatcherConfig{MaxSubjectsAllowed: *maxSubjects})
	if err := dispatcher.StartDispatching(ctx, updates); err != nil {
		log.Fatal().Err(err).Msg("failed to start dispatcher")
	}

	server := &http.Server{
		Addr:              *listen,
		Handler:           api.NewRouter(evaluator, dispatcher),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Serve until interrupted.
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", *listen).Msg("bridge status server listening")
		errCh <- server.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("received shutdown signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown failed")
	}

	if err := evaluator.Stop(); err != nil {
		log.Debug().Err(err).Msg("evaluator stop")
	}

	log.Info().Msg("shutdown complete")
}

// validateConfig performs validation of command-line configuration before
// any collaborator is constructed.
func validateConfig() error {
	if *listen == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if *interval <= 0 {
		return fmt.Errorf("interval must be positive, got %d", *interval)
	}
	if *pageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", *pageSize)
	}
	if *maxSubjects <= 0 {
		return fmt.Errorf("max subjects must be positive, got %d", *maxSubjects)
	}
	for name, raw := range map[string]string{"esplora": *esploraURL, "indexer": *indexerURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s URL: %q", name, raw)
		}
	}
	if *nodeURL != "" {
		u, err := url.Parse(*nodeURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("node URL must be a ws:// or wss:// endpoint, got %q", *nodeURL)
		}
	}
	return nil
}
