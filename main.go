package main

import "github.com/pagescaler/pagescaler/cmd"

func main() {
	cmd.Execute()
}
