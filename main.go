package main

import "finsync/cmd"

func main() {
	cmd.Execute()
}
