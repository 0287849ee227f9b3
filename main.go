package main

import "github.com/deemkeen/fedmerge/cmd"

func main() {
	cmd.Execute()
}
