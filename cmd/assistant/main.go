// Command assistant is a terminal client for the venture assistant: it keeps
// investor-matching and financial-projection chats in sync with the server.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
