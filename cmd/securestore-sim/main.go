// Command securestore-sim drives a securestore.Store from the command
// line against a file-backed Norcow image, for manual exploration of the
// unlock/PIN-retry/fault-injection behavior this module implements. It is
// a development tool, not part of the library's public contract.
package main

import "github.com/coldvault/securestore/cmd/securestore-sim/cmd"

func main() {
	cmd.Execute()
}
