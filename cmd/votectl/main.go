package main

import "confidential-voting-backend/cmd/votectl/commands"

func main() {
	commands.Execute()
}
