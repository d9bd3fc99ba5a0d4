package storage

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"time"
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// WebhookArchive keeps every verified webhook body, one object per delivery,
// under webhooks/YYYY/MM/DD/.
type WebhookArchive struct {
	store Storage
	clock func() time.Time
}

func NewWebhookArchive(store Storage, clock func() time.Time) *WebhookArchive {
	if clock == nil {
		clock = time.Now
	}
	return &WebhookArchive{store: store, clock: clock}
}

// Save stores body and returns the object path.
func (a *WebhookArchive) Save(ctx context.Context, reference string, body []byte) (string, error) {
	now := a.clock().UTC()
	if reference == "" {
		reference = "unknown"
	}

	path := fmt.Sprintf("webhooks/%s/%s-%d.json",
		now.Format("2006/01/02"),
		unsafeKeyChars.ReplaceAllString(reference, "_"),
		now.UnixNano(),
	)
	if err := a.store.Save(ctx, path, bytes.NewReader(body), "application/json"); err != nil {
		return "", err
	}
	return path, nil
}
