// Package entity implements the event-sourced entity state machine.
//
// An Entity owns one State, identified by a key K. It advances only by
// applying Events whose version is exactly one past the current version,
// replays missing events from an EventStorage when it falls behind, and
// snapshots its State to a StateStorage at a fixed version interval.
// Direct Messages bypass the event log and never change the version.
//
// An Entity is not safe for concurrent use. The host package serializes
// turns per identity; every exported method that mutates state must be
// called from within such a turn.
package entity
