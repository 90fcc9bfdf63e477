// Command keygen prints a fresh Ed25519 seed for SERVER_KEY_SEED together
// with the public identity clients should expect in X-Author.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/groupbank/groupbank/internal/signing"
)

func main() {
	envFormat := flag.Bool("env", false, "print as KEY=value lines")
	flag.Parse()

	s, err := signing.GenerateSigner()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
		os.Exit(1)
	}

	if *envFormat {
		fmt.Printf("SERVER_KEY_SEED=%s\n", s.Seed())
		fmt.Printf("# identity %s\n", s.Identity())
		return
	}
	fmt.Printf("seed:     %s\n", s.Seed())
	fmt.Printf("identity: %s\n", s.Identity())
}
