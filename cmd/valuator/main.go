package main

import "github.com/vietddude/valuator/internal/cli"

func main() {
	cli.Execute()
}
