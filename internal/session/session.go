// Package session manages connected swipe sessions. It stores ephemeral
// per-client state in Redis and runs the per-party coordinator that pulls
// deck batches, forwards swipe decisions to the vote ledger, and reacts to
// match notifications.
package session
