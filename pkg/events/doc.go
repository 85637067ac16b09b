/*
Package events is the in-memory broker behind torc's live event feed.

Every state transition the engine performs is recorded twice. The
durable record is an Event row written in the same store transaction as
the transition itself, queryable later with an after cursor. The live
copy goes through this broker to whoever is listening right now, which
is what the API's server-sent-event stream rides on.

# Architecture

	Engine / Tracker
	      │ Publish (after commit)
	      ▼
	┌─────────────────────────────┐
	│           Broker            │
	│   event channel (100)       │
	│            │                │
	│      broadcast loop         │
	│      ┌─────┼─────┐          │
	│      ▼     ▼     ▼          │
	│    sub   sub   sub  (50)    │
	└──────┬─────┬─────┬──────────┘
	       ▼     ▼     ▼
	   SSE streams, tests, ...

Publishing never blocks the caller on a slow listener. The broker's
inbox is buffered, each subscriber gets its own buffered channel, and
a subscriber whose buffer is full is skipped for that event. Live
delivery is therefore best effort: a consumer that must not miss
anything reads the stored events instead and uses the stream only as
a wakeup.

Events are published after the owning transaction commits, so a
subscriber never observes an event for state that was rolled back.

# Event Shape

Events carry a workflow id, a category (workflow, job, compute_node,
scheduler, action), a type such as job.completed or compute_node.dead,
a human-readable message, and a small string map of details. See
pkg/types for the full catalog.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	for ev := range sub {
		fmt.Println(ev.Type, ev.Message)
	}

# See Also

  - pkg/engine: writes the durable rows and publishes here
  - pkg/api: exposes the stream as GET /workflows/{id}/events/stream
  - pkg/types: event categories and types
*/
package events
