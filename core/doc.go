// Package core implements the actor runtime that hosts entities.
//
// An Actor owns a mailbox and a goroutine and executes queued turns one at a
// time, which makes it a single writer for whatever state its turns touch.
// A System keeps a directory of live Actors keyed by ActorID, spawns them
// on demand and stops them together on shutdown.
package core
