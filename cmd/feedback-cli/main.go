package main

import (
	"vastfeedback/cmd/feedback-cli/commands"
)

func main() {
	commands.Execute()
}
