// Package engine decides which messages fire, renders them, and tracks
// the player's responses.
//
// PASSES:
//
// Random pass (Engine.Tick):
// Every active random definition is sampled once per logical tick and fires
// when sample < probability. The FiringGuard remembers which definitions were
// sampled on recent ticks, so repeating a tick fires nothing new.
//
// Event pass (Engine.HandleEvent):
// Every active game_event definition listening for the event type is checked
// against the payload merged over the static context. Matches fire
// independently of each other.
//
// Both passes evaluate candidates concurrently, then stamp emission ids and
// Seq values in registry order. A candidate that fails (missing template
// variable, bad formula input) is dropped with an EvaluationError; the rest of
// the pass still emits.
//
// RESPONSES:
//
// User-action emissions are registered in the Ledger as unresolved.
// Engine.Respond moves an entry to resolved exactly once; the transition is a
// compare-and-swap, so concurrent responders cannot both win.
//
// ORDERING:
//
// Emissions are stamped with Clock.Next(). Never use wall-clock time for
// ordering. Loop serializes commands from concurrent producers when callers
// need outcomes in submission order.
package engine
