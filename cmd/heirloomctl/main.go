package main

import "heirloom/cmd/heirloomctl/cmd"

func main() {
	cmd.Execute()
}
