// Package relay talks to the relays that store and forward signed events.
// Relays are untrusted: they may be slow, lossy, or deliver the same event
// twice, and callers must reconcile what they receive.
package relay

import (
	"agora/backend/internal/models"
	"context"
	"encoding/json"
	"fmt"
)

// Transport is the event feed consumed by the governance hub.
type Transport interface {
	// Subscribe opens a live subscription; onEvent may be called from any
	// goroutine until Unsubscribe.
	Subscribe(ctx context.Context, filters []models.Filter, onEvent func(models.Event)) (string, error)
	Unsubscribe(subID string)
	// Publish returns the event id once at least one relay accepted it.
	Publish(ctx context.Context, evt models.Event) (string, error)
	// Query is a one-shot historical fetch bounded by ctx.
	Query(ctx context.Context, filters []models.Filter) ([]models.Event, error)
}

// Frame labels of the relay wire protocol.
const (
	labelEvent  = "EVENT"
	labelReq    = "REQ"
	labelClose  = "CLOSE"
	labelEOSE   = "EOSE"
	labelOK     = "OK"
	labelNotice = "NOTICE"
	labelClosed = "CLOSED"
)

func encodeFrame(parts ...any) ([]byte, error) {
	data, err := json.Marshal(parts)
	if err != nil {
		return nil, fmt.Errorf("encode %v frame: %w", parts[0], err)
	}
	return data, nil
}

func encodeReq(subID string, filters []models.Filter) ([]byte, error) {
	parts := make([]any, 0, len(filters)+2)
	parts = append(parts, labelReq, subID)
	for _, f := range filters {
		parts = append(parts, f)
	}
	return encodeFrame(parts...)
}

// decodeFrame splits a frame into its label and raw arguments.
func decodeFrame(raw []byte) (string, []json.RawMessage, error) {
	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil {
		return "", nil, fmt.Errorf("frame is not a JSON array: %w", err)
	}
	if len(frame) == 0 {
		return "", nil, fmt.Errorf("empty frame")
	}
	var label string
	if err := json.Unmarshal(frame[0], &label); err != nil {
		return "", nil, fmt.Errorf("frame label is not a string: %w", err)
	}
	return label, frame[1:], nil
}

func decodeString(raw json.RawMessage) string {
	var s string
	_ = json.Unmarshal(raw, &s)
	return s
}
