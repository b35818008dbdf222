// Package notify carries change notifications (sale inserted, product
// updated, sale item updated) between the write path and the dashboards.
package notify

import (
	"context"
	"time"
)

type Kind string

const (
	SaleInserted    Kind = "sale_inserted"
	ProductUpdated  Kind = "product_updated"
	SaleItemUpdated Kind = "sale_item_updated"
	CapitalRecorded Kind = "capital_recorded"
)

// Event.SiteID is empty for changes that concern every site.
type Event struct {
	Kind     Kind      `json:"kind"`
	SiteID   string    `json:"site_id,omitempty"`
	EntityID string    `json:"entity_id"`
	At       time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscriber streams events until ctx is done, then closes the channel.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
}

type Broker interface {
	Publisher
	Subscriber
}

func NewEvent(kind Kind, siteID string, entityID string) Event {
	return Event{Kind: kind, SiteID: siteID, EntityID: entityID, At: time.Now().UTC()}
}
