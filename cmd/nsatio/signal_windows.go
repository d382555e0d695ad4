//go:build windows

package main

import "os"

// shutdownSignals cancel a running simulation. On Windows only os.Interrupt
// (Ctrl+C) exists.
var shutdownSignals = []os.Signal{os.Interrupt}
