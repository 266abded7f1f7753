package main

import "aptkeeper/internal/cli"

func main() {
	cli.Execute()
}
