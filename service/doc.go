// Package service is the only write entry point into the engine. It owns
// the committed state of every market and runs each command through the
// same pipeline: apply to a private copy, move custody funds on the
// ledger, journal the command, publish the copy, record the fills for
// broadcast.
//
// Transports such as gRPC sit on top of it; nothing below it knows about
// them.
package service
