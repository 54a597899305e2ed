// Command railfeed listens to the rail operational data feed, prints berth
// steps or train movements as they arrive and optionally stores them.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
