/*
Package main implements a small polling client for the bridge status server.

The client periodically fetches request and vault statuses from the HTTP API
and logs them, which is handy for watching a deployment without the
dashboard in front of it.

Usage:

	go run main.go -addr=http://localhost:8080 -interval=10
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Command-line flags for configuring the client
var (
	// serverAddr specifies the bridge status server base URL
	serverAddr = flag.String("addr", "http://localhost:8080", "The server base URL")
	// interval defines the polling cadence in seconds
	interval = flag.Int("interval", 10, "Polling interval in seconds")
)

type requestStatus struct {
	ID                string `json:"id"`
	Kind              string `json:"kind"`
	Status            string `json:"status"`
	RequestedAmount   string `json:"requestedAmount"`
	Currency          string `json:"currency"`
	VaultID           string `json:"vaultId"`
	EvaluatedAtHeight uint32 `json:"evaluatedAtHeight"`
}

type vaultStatus struct {
	ID              string  `json:"id"`
	Status          string  `json:"status"`
	Settled         *string `json:"settledCollateralization"`
	Unsettled       *string `json:"unsettledCollateralization"`
	NearLiquidation bool    `json:"nearLiquidation"`
}

func main() {
	flag.Parse()

	log := zerolog.New(os.Stdout).Level(zerolog.InfoLevel).With().Timestamp().Logger()

	if err := validateConfig(); err != nil {
		log.Fatal().Err(err).Msg("configuration error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	httpc := &http.Client{Timeout: 10 * time.Second}
	ticker := time.NewTicker(time.Duration(*interval) * time.Second)
	defer ticker.Stop()

	poll(ctx, log, httpc)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll(ctx, log, httpc)
		}
	}
}

// poll fetches and logs one round of request and vault statuses.
func poll(ctx context.Context, log zerolog.Logger, httpc *http.Client) {
	var requests []requestStatus
	if err := fetch(ctx, httpc, *serverAddr+"/api/v1/requests", &requests); err != nil {
		log.Error().Err(err).Msg("failed to fetch requests")
	} else {
		for _, req := range requests {
			log.Info().
				Str("id", req.ID).
				Str("kind", req.Kind).
				Str("status", req.Status).
				Str("amount", req.RequestedAmount+" "+req.Currency).
				Str("vault", req.VaultID).
				Uint32("height", req.EvaluatedAtHeight).
				Msg("request")
		}
	}

	var vaults []vaultStatus
	if err := fetch(ctx, httpc, *serverAddr+"/api/v1/vaults", &vaults); err != nil {
		log.Error().Err(err).Msg("failed to fetch vaults")
		return
	}
	for _, v := range vaults {
		// Unbounded collateralization arrives as null and prints as infinity.
		settled, unsettled := "∞", "∞"
		if v.Settled != nil {
			settled = *v.Settled + "%"
		}
		if v.Unsettled != nil {
			unsettled = *v.Unsettled + "%"
		}
		log.Info().
			Str("id", v.ID).
			Str("status", v.Status).
			Str("settled", settled).
			Str("unsettled", unsettled).
			Bool("nearLiquidation", v.NearLiquidation).
			Msg("vault")
	}
}

// fetch GETs a JSON document into out.
func fetch(ctx context.Context, httpc *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// validateConfig performs validation of command-line configuration.
func validateConfig() error {
	if *serverAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if *interval <= 0 {
		return fmt.Errorf("interval must be positive, got %d", *interval)
	}
	return nil
}
