package main

import "mycelica/wot/cmd"

func main() {
	cmd.Execute()
}
