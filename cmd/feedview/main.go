package main

import "github.com/bryanchriswhite/feedview/cmd/feedview/commands"

func main() {
	commands.Execute()
}
