package main

import "github.com/andresmejia3/shadescope/cmd"

func main() {
	cmd.Execute()
}
