package main

import "github.com/termnetdev/termnet/cmd"

func main() {
	cmd.Execute()
}
