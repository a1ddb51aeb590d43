// Package export pushes market snapshots to an external webhook.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/DorothyRazo/CoreExchange/internal/model"
	"github.com/DorothyRazo/CoreExchange/internal/store"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// Snapshot is the exported view of the market state.
type Snapshot struct {
	TakenAt         time.Time                `json:"taken_at"`
	Pair            string                   `json:"pair,omitempty"`
	Price           float64                  `json:"price"`
	SpotRates       map[string]float64       `json:"spot_rates"`
	Markets         []model.DerivedMarketRow `json:"markets"`
	Gas             model.GasInfo            `json:"gas"`
	ExchangeFeeRate float64                  `json:"exchange_fee_rate"`
}

// SnapshotOf builds a snapshot from state. Markets are the selected quote's
// rows ordered by 24h change, without their sample series.
func SnapshotOf(s store.State, at time.Time) Snapshot {
	snap := Snapshot{
		TakenAt:         at.UTC(),
		SpotRates:       s.SpotRates,
		Gas:             s.Gas,
		ExchangeFeeRate: s.ExchangeFeeRate,
	}
	if p, ok := s.SelectedPair(); ok {
		snap.Pair = p.Key()
		snap.Price = p.Price
	}

	rows := s.MarketsByChange(s.Quote)
	for i := range rows {
		rows[i].Rates = nil
	}
	snap.Markets = rows
	return snap
}

// Config holds configuration for snapshot exporting
type Config struct {
	WebhookURL    string
	WebhookAPIKey string

	// BatchSize is the number of snapshots sent per request
	BatchSize int
	Timeout   time.Duration
}

// Exporter batches snapshots and posts them to the webhook.
type Exporter struct {
	config Config
	client *retryablehttp.Client

	mu         sync.RWMutex
	batch      []Snapshot
	lastExport time.Time
	exported   int
	failures   int
}

// New creates an exporter. It returns nil when no webhook is configured.
func New(config Config) *Exporter {
	if config.WebhookURL == "" {
		return nil
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.HTTPClient.Timeout = config.Timeout
	client.Logger = nil

	logrus.WithField("batch_size", config.BatchSize).Info("Snapshot exporter initialized")
	return &Exporter{
		config: config,
		client: client,
		batch:  make([]Snapshot, 0, config.BatchSize),
	}
}

// Add queues a snapshot and sends the batch once it is full.
func (e *Exporter) Add(ctx context.Context, snap Snapshot) error {
	e.mu.Lock()
	e.batch = append(e.batch, snap)
	full := len(e.batch) >= e.config.BatchSize
	e.mu.Unlock()

	if !full {
		return nil
	}
	return e.Flush(ctx)
}

// Flush sends whatever is queued. A failed batch is dropped.
func (e *Exporter) Flush(ctx context.Context) error {
	e.mu.Lock()
	if len(e.batch) == 0 {
		e.mu.Unlock()
		return nil
	}
	batch := e.batch
	e.batch = make([]Snapshot, 0, e.config.BatchSize)
	e.mu.Unlock()

	err := e.post(ctx, batch)

	e.mu.Lock()
	if err != nil {
		e.failures++
	} else {
		e.exported += len(batch)
		e.lastExport = time.Now()
	}
	e.mu.Unlock()

	if err != nil {
		return err
	}
	logrus.Debugf("Exported %d snapshots", len(batch))
	return nil
}

func (e *Exporter) post(ctx context.Context, batch []Snapshot) error {
	payload, err := json.Marshal(struct {
		Snapshots  []Snapshot `json:"snapshots"`
		ExportTime string     `json:"export_time"`
		Count      int        `json:"count"`
	}{
		Snapshots:  batch,
		ExportTime: time.Now().UTC().Format(time.RFC3339),
		Count:      len(batch),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshots: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, e.config.WebhookURL, payload)
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.WebhookAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.WebhookAPIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}

// Status returns the exporter counters.
func (e *Exporter) Status() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := map[string]interface{}{
		"batch_size":    e.config.BatchSize,
		"current_batch": len(e.batch),
		"exported":      e.exported,
		"failures":      e.failures,
	}
	if !e.lastExport.IsZero() {
		status["last_export"] = e.lastExport.Format(time.RFC3339)
	}
	return status
}
