// Command loadtest drives the Parley chat server with synthetic WebSocket
// traffic. It supports two scenarios:
//
//	saturate - ramp up a large number of idle connections and hold them
//	chat     - simulate pairs of users opening dialogs and exchanging messages
//
// Run with -h on a subcommand for its flags.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "saturate":
		runSaturate(os.Args[2:])
	case "chat":
		runChat(os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown scenario: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: loadtest <scenario> [flags]

Scenarios:
  saturate    Ramp up connections to the target count and hold them.
  chat        Pairs of users log in, open a dialog, and exchange messages.

Examples:
  loadtest saturate -url ws://localhost:8080/ws -connections 5000
  loadtest chat -url ws://localhost:8080/ws -pairs 100 -chat-duration 60s`)
}
