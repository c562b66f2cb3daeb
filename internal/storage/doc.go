// Package storage persists tracked manga: title, latest chapter baseline
// and the chat subscribers that receive updates.
//
// Drivers: memory, file (journal + snapshot), sqlite and mongo.
package storage
