package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"nextaction/internal/config"
	"nextaction/internal/domain"
	"nextaction/internal/engine"
)

// webhookDispatcher tails the transition audit log and posts each new entry to
// every configured webhook. Delivery is at-least-once per process lifetime;
// cursors are per-endpoint and in-memory.
type webhookDispatcher struct {
	eng      engine.Engine
	webhooks []config.Webhook
	client   *http.Client
	cursors  []int64
}

func startWebhookDispatcher(eng engine.Engine) {
	if eng.Config == nil || len(eng.Config.Webhooks) == 0 {
		return
	}
	d := &webhookDispatcher{
		eng:      eng,
		webhooks: eng.Config.Webhooks,
		client:   &http.Client{Timeout: 5 * time.Second},
		cursors:  make([]int64, len(eng.Config.Webhooks)),
	}
	go d.run(context.Background())
}

func (d *webhookDispatcher) run(ctx context.Context) {
	latest, err := d.eng.Repo.LatestAuditID(ctx)
	if err != nil {
		log.Printf("webhooks: reading audit cursor: %v", err)
	}
	for i := range d.cursors {
		d.cursors[i] = latest
	}
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *webhookDispatcher) poll(ctx context.Context) {
	for i, wh := range d.webhooks {
		entries, err := d.eng.Repo.AuditAfter(ctx, 100, d.cursors[i])
		if err != nil {
			log.Printf("webhooks: tailing audit log: %v", err)
			continue
		}
		for _, e := range entries {
			if err := d.postEvent(ctx, wh, e); err != nil {
				log.Printf("webhooks: delivering %d to %s: %v", e.ID, wh.URL, err)
				break
			}
			d.cursors[i] = e.ID
		}
	}
}

func (d *webhookDispatcher) postEvent(ctx context.Context, wh config.Webhook, e domain.AuditEntry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-NextAction-Event", "transition."+e.Decision)
	req.Header.Set("X-NextAction-Delivery", fmt.Sprintf("%d", e.ID))
	if wh.Secret != "" {
		mac := hmac.New(sha256.New, []byte(wh.Secret))
		mac.Write(payload)
		req.Header.Set("X-NextAction-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
