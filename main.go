package main

import "github.com/theuncproject/chatflow/cmd"

func main() {
	cmd.Execute()
}
