package main

import "github.com/canopy-network/dbft/cmd/cli"

func main() {
	cli.Execute()
}
