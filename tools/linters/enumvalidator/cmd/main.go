package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"bubbleflow.app/relay/tools/linters/enumvalidator"
)

func main() {
	singlechecker.Main(enumvalidator.Analyzer)
}
