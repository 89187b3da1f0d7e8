package eventbus

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// CloudEventSource is the source URI attached to bridged CloudEvents.
const CloudEventSource = "gamify/eventbus"

// ToCloudEvent converts a bus event into a CloudEvents v1 envelope for
// external observers and brokers.
func ToCloudEvent(event Event) cloudevents.Event {
	ce := cloudevents.NewEvent()
	ce.SetID(event.ID)
	ce.SetSource(CloudEventSource)
	ce.SetType(event.Name)
	ce.SetTime(time.UnixMilli(event.Timestamp))
	ce.SetSpecVersion(cloudevents.VersionV1)
	if event.Data != nil {
		_ = ce.SetData(cloudevents.ApplicationJSON, event.Data)
	}
	return ce
}

// ObserveCloudEvents subscribes fn to every event on the bus, delivered as
// CloudEvents. Observer failures are collected like any handler failure and
// never reach emitters.
func (b *Bus) ObserveCloudEvents(fn func(ctx context.Context, ce cloudevents.Event) error) (*Subscription, error) {
	return b.SubscribeWildcard("*", func(ctx context.Context, event Event) error {
		return fn(ctx, ToCloudEvent(event))
	})
}
