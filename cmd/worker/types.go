package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/imrishuroy/quickcart-orderflow/internal/orders"
)

var errMalformed = errors.New("malformed order event")

// decodeEvent parses an SQS body published by the API's queue sink.
func decodeEvent(body string) (orders.CreatedEvent, error) {
	var ev orders.CreatedEvent
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return ev, fmt.Errorf("%w: %w", errMalformed, err)
	}
	switch {
	case ev.EventID == "":
		return ev, fmt.Errorf("%w: missing eventId", errMalformed)
	case ev.UserID == "":
		return ev, fmt.Errorf("%w: missing userId", errMalformed)
	case len(ev.Items) == 0:
		return ev, fmt.Errorf("%w: no items", errMalformed)
	}
	return ev, nil
}
