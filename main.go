package main

import "github.com/encodeous/overlay/cmd"

func main() {
	cmd.Execute()
}
