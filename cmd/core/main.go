// Package main provides the shelfrank core library entry point.
// The core is a library consumed by a UI layer; this binary exists only for
// version checks and packaging.
package main

import (
	"fmt"
	"log"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	fmt.Printf("shelfrank core v%s\n", Version)
	log.Println("shelfrank - pairwise book ranking engine")
}
