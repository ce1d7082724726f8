// Package handler implements the HTTP API of a stagehand room.
//
// RoomHandler exposes the room's members for reading and staging. Writes
// never reach peers directly: PATCH, POST and DELETE stage edits, and the
// next commit (POST /api/commit or the server's tick loop) turns them into
// one update frame.
//
// # Routes
//
//	GET    /api/health           room name and sequence
//	GET    /api/snapshot         committed data as a snapshot frame
//	GET    /api/members          committed members keyed by id
//	POST   /api/members[?id=N]   stage a new member
//	GET    /api/members/{id}     one committed member
//	PATCH  /api/members/{id}     stage a JSON merge patch
//	DELETE /api/members/{id}     stage a removal
//	GET    /api/pending          the update the next commit would send
//	DELETE /api/pending          discard staged edits
//	POST   /api/commit           commit staged edits
//	GET    /api/export?format=   seed file (json, yaml)
//	POST   /api/import?format=   stage a seed file as a full replacement
//	GET    /api/jobs             periodic jobs (JobsHandler)
//	POST   /api/jobs/{name}/run  run a job now
//
// # Response Format
//
// Success responses return JSON data with appropriate status codes (200,
// 201, 202, 204). Error responses return JSON with {error, details}.
// Unknown members map to 404, duplicate ids to 409 and misuse of the
// state API to 400.
//
// Middleware provides panic recovery, CORS and request logging.
package handler
