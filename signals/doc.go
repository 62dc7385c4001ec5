// Package signals is a typed publish/subscribe bus.
//
// Signals are plain Go values; their type is the routing key:
//
//	type ScoreChanged struct{ Score int }
//
//	bus := signals.New(signals.Options{})
//	sub, _ := signals.Subscribe(bus, func(s ScoreChanged) { hud.SetScore(s.Score) })
//	signals.Publish(bus, ScoreChanged{Score: 10})
//	bus.Unsubscribe(sub)
//
// Go functions cannot be compared, so subscriptions are removed through the
// returned [Subscription] token, or in bulk by binding them to a target with
// [SubscribeTarget] and calling [Bus.UnsubscribeAll] when the target goes
// away.
//
// [Default] returns a process-wide bus; [WithBus] and [FromContext] carry an
// explicitly constructed bus through a context instead.
package signals
