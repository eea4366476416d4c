// Package lifecycle hosts worker scripts for a set of pages (clients).
//
// A Registration ties a scope to its installing, waiting and active workers and
// drives the state machine installing → installed → activating → activated
// (redundant when superseded or when install fails). Scripts receive
// extendable install/activate events, fetch events from controlled clients and
// messages posted by pages, optionally with a reply port from a MessageChannel.
//
// Event dispatch is synchronous from the caller's point of view: Register,
// Update and PostMessage return once every handler and every task passed to
// WaitUntil has finished. Listeners are always invoked outside host locks, so a
// listener may post messages or fetch through the host again.
package lifecycle
