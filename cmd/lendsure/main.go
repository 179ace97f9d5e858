package main

import (
	"lendsure/internal/cli"
)

func main() {
	cli.Execute()
}
