// Package snapshot persists full engine images so boot can skip the part of
// the command journal they cover. A snapshot is one gob file named by the
// journal sequence it was taken at; the newest readable file wins.
package snapshot
