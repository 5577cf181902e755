/*
Package events provides an in-memory event broker for orchestration
notifications.

The events package implements a lightweight event bus for broadcasting
run-level notifications to interested subscribers: a CLI progress
reporter, a metrics collector, an external webhook forwarder. It
supports topic-agnostic subscriptions with asynchronous, non-blocking
delivery, so a slow or absent subscriber never backpressures the
pipeline itself.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Topic-agnostic (all events broadcast)    │          │
	│  │  - Non-blocking publish                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │                                              │          │
	│  │  Publisher → Event Channel (buffer: 100)    │          │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buffer: 50 each)      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Types                       │          │
	│  │                                              │          │
	│  │  Run lifecycle:                             │          │
	│  │    - run.started                            │          │
	│  │    - run.completed                          │          │
	│  │    - run.failed                             │          │
	│  │                                              │          │
	│  │  Row/token outcomes:                        │          │
	│  │    - row.quarantined                        │          │
	│  │    - token.outcome                          │          │
	│  │                                              │          │
	│  │  Batch lifecycle:                           │          │
	│  │    - batch.dispatched                       │          │
	│  │    - batch.completed                        │          │
	│  │                                              │          │
	│  │  Checkpointing:                              │          │
	│  │    - checkpoint.created                     │          │
	│  └──────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────────┘

# Usage

Subscribers call Subscribe to receive a channel, then range over it:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	for event := range sub {
		fmt.Println(event.Type, event.Message)
	}

Publishers call Publish with a constructed Event; the broker fills in
Timestamp if it was left zero. If a subscriber's buffer is full, the
event is dropped for that subscriber rather than blocking the
publisher — the event broker is a best-effort side channel, never the
system of record. The landscape store is the durable, queryable
record of everything that happened in a run; these events exist purely
to let outside observers react as it happens.
*/
package events
