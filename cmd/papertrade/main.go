package main

import "github.com/rustyeddy/papertrade/internal/cli"

func main() {
	cli.Execute()
}
