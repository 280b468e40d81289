package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/kaulonline/iriseller-mobile/internal/endpoints"
	"github.com/kaulonline/iriseller-mobile/internal/gateway"
	"github.com/kaulonline/iriseller-mobile/internal/ledger"
)

// ErrMissingID is returned by REST handlers when an update or delete payload
// carries no usable "id" field.
var ErrMissingID = errors.New("client: payload has no id")

// RegisterHandler installs a custom replay handler for entity.
func (c *Client) RegisterHandler(entity string, h Handler) {
	c.ledger.RegisterHandler(entity, h)
}

// RegisterRESTHandler replays entity mutations against a REST collection:
// create POSTs the payload to collectionPath, update PUTs it to
// collectionPath/{id} and delete sends DELETE to collectionPath/{id}. The id
// is read from the payload's "id" field.
//
// Replays bypass the gateway's offline queue so a failure counts against the
// entry's attempt budget instead of being deferred a second time.
func (c *Client) RegisterRESTHandler(entity, collectionPath string) {
	gw := c.gateway
	c.ledger.RegisterHandler(entity, func(ctx context.Context, e ledger.Entry) error {
		err := replayREST(ctx, gw, collectionPath, e)
		result := "ok"
		if err != nil {
			result = "error"
		}
		restReplaysTotal.WithLabelValues(e.Entity, string(e.Kind), result).Inc()
		return err
	})
}

func replayREST(ctx context.Context, gw *gateway.Gateway, collection string, e ledger.Entry) error {
	switch e.Kind {
	case ledger.KindCreate:
		_, err := gw.Post(ctx, collection, e.Payload, gateway.WithoutQueue())
		return err
	case ledger.KindUpdate:
		id, err := payloadID(e.Payload)
		if err != nil {
			return err
		}
		_, err = gw.Put(ctx, endpoints.Item(collection, id), e.Payload, gateway.WithoutQueue())
		return err
	case ledger.KindDelete:
		id, err := payloadID(e.Payload)
		if err != nil {
			return err
		}
		_, err = gw.Delete(ctx, endpoints.Item(collection, id), gateway.WithoutQueue())
		return err
	default:
		return fmt.Errorf("client: unsupported entry kind %q", e.Kind)
	}
}

func payloadID(data json.RawMessage) (string, error) {
	var body struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &body); err != nil || len(body.ID) == 0 {
		return "", ErrMissingID
	}
	var s string
	if err := json.Unmarshal(body.ID, &s); err == nil {
		if s == "" {
			return "", ErrMissingID
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(body.ID, &n); err == nil {
		if _, err := strconv.ParseFloat(n.String(), 64); err == nil {
			return n.String(), nil
		}
	}
	return "", ErrMissingID
}
