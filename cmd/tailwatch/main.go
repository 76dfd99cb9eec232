package main

import "github.com/vietddude/tailwatch/internal/cli"

func main() {
	cli.Execute()
}
