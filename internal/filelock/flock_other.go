//go:build !unix

package filelock

import "os"

// Advisory locks are only taken on unix; elsewhere the in-process mutex of
// each store is the only guard.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }
