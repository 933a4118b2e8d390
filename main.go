package main

import "github.com/kiesman99/mapstyle/cmd"

func main() {
	cmd.Execute()
}
