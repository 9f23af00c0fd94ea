// Package brain is the bot's durable key/value memory. The reminder store
// snapshots its whole job list into one key on every mutation; the brain
// only needs to keep the latest value per key durable.
package brain
