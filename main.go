package main

import "github.com/steved/pushreg/cmd"

func main() {
	cmd.Execute()
}
