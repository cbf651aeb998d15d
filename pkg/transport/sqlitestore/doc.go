// Package sqlitestore is a durable transport.Store kept in a single SQLite
// file.
//
// Messages are rows in an envelopes table ordered by an autoincrement id.
// A consumer takes the oldest row for its channel with one
// DELETE ... RETURNING statement, so several processes sharing the file
// compete for messages without ever delivering one twice, and messages
// published while no stage is running are still there after a restart.
//
// Waiting subscribers are woken immediately by pushes from the same process
// and re-check the table every PollInterval for pushes from other processes.
package sqlitestore
