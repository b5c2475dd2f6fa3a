// rawget fetches a single URL over a from-scratch TCP/IPv4 client
// stack built directly on a raw Ethernet socket.
package main

import "github.com/rawstack/rawget/cmd/rawget/commands"

func main() {
	commands.Execute()
}
