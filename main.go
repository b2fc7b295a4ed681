// Pocket Relay client plugin. Built as a c-shared library and loaded into
// the running game process; everything starts from the library constructor
// and ends at the exported detach symbol.
package main

import "C"

import "github.com/PocketRelay/PocketRelayClientPlugin/internal/plugin"

func init() {
	// Library constructors run under the loader lock. Boot on a fresh
	// goroutine so hooking and console setup happen outside of it.
	go plugin.Attach()
}

//export PocketRelayDetach
func PocketRelayDetach() {
	plugin.Detach()
}

func main() {}
