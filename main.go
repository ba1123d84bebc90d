package main

import "github.com/gantryci/gantry/cmd"

func main() {
	cmd.Execute()
}
