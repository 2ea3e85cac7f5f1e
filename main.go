package main

import "github.com/nextlevelbuilder/sreorch/cmd"

func main() {
	cmd.Execute()
}
