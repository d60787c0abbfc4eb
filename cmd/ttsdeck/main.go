package main

import "ttsdeck/cmd/ttsdeck/cmd"

func main() {
	cmd.Execute()
}
