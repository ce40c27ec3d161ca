package main

import "github.com/sarchlab/bhmc/cmd"

func main() {
	cmd.Execute()
}
