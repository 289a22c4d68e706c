package main

import "github.com/mvp-joe/lattice/internal/cli"

func main() {
	cli.Execute()
}
