package main

import "github.com/iliyamo/brick-focus/internal/cli"

func main() {
	cli.Execute()
}
