// Package network broadcasts store events over ZeroMQ.
// This package implements:
// - Publisher: PUB socket fed by the store as its Notifier
// - Subscriber: SUB socket filtering events by kind
package network
