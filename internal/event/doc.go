/*
Package event provides a pub/sub event system for permission activity.

Publishers (the evaluator's checker, the rule aggregator, the settings watcher)
emit events; subscribers (the audit log, the HTTP event stream, tests) react to
them without direct dependencies on the publisher.

# Architecture

In-process subscribers are called directly with typed Data values. Every
event is also mirrored as a JSON message, {"type": ..., "properties": ...},
on a watermill gochannel topic. Streaming consumers such as the HTTP event
endpoint read that topic through Stream and filter on the message metadata
(type, session) without decoding the payload.

# Event Types

  - decision.made: a permission decision was produced (DecisionMadeData)
  - rules.reloaded: the rule set was rebuilt (RulesReloadedData)
  - settings.changed: a watched settings file changed (SettingsChangedData)
  - permission.required: an ask decision is waiting for a reply (PermissionRequiredData)
  - permission.resolved: a pending request was answered (PermissionResolvedData)

# Basic Usage

	event.Publish(event.Event{
		Type: event.DecisionMade,
		Data: event.DecisionMadeData{DecisionID: d.ID, Behavior: "deny"},
	})

	unsubscribe := event.Subscribe(event.RulesReloaded, func(e event.Event) {
		data := e.Data.(event.RulesReloadedData)
		logging.Info().Uint64("version", data.Version).Msg("rules reloaded")
	})
	defer unsubscribe()

# Subscriber Safety

PublishSync calls subscribers in the publisher's goroutine. Subscribers must
return quickly and must not publish re-entrantly.

For tests, create an isolated bus with NewBus, or call Reset to clear the
global one.
*/
package event
