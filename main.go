package main

import "github.com/kvpipe/kvpipe/cmd"

func main() {
	cmd.Execute()
}
