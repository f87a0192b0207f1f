package main

import (
	"github.com/mchmarny/metarank/pkg/cli"
)

func main() {
	cli.Execute()
}
