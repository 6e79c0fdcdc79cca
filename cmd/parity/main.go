// Command parity replays recorded CRUD API fixtures against a live service and
// reports where the client abstraction diverges from the recordings.
//
// Usage:
//
//	parity run   [--base-url URL] [--corpus DIR] [--only GLOB] [--strict] [--no-reset]
//	parity check METHOD PATH [-H 'Name: value'] [--body BODY]
//	parity list  [--corpus DIR]
//	parity serve [--addr ADDR] [--base-url URL] [--corpus DIR] [--no-reset]
//
// Exit code 0 = no file failed. Exit code 1 = failures. Exit code 2 = error.
package main

import (
	"fmt"
	"os"

	"github.com/thipages/js-crud-api/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
