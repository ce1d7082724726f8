// Package service hosts rooms: one authoritative group each, guarded by a
// mutex, with sequence numbers, persistence and an event bus.
//
// A Room stages writes on its members and commits them as one update frame
// per Commit or Tick. Every committed frame is published on the EventBus
// (EventFrame) and appended to the repository's journal; Persist saves a
// snapshot and trims the journal, Restore loads the snapshot and replays
// what is left.
//
// # Event System
//
// The server subscribes to the EventBus to fan frames out to SSE clients
// and websocket peers. Member events report ids that joined or left the
// live set, before the commit that carries them.
package service
