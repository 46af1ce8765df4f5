// Package ephemeral stores short-lived keyed values that are read at most
// once, such as the tickets a client exchanges for a WebSocket connection.
//
// Two backends are provided:
//   - MemoryStore keeps entries in process and evicts them on a sweep loop.
//   - RedisStore keeps entries in Redis so tickets survive across replicas.
//
// Select the backend with ephemeral.backend in configuration.
package ephemeral
