package main

import "github.com/ramiqadoumi/agentq/services/dispatcher/cli"

func main() {
	cli.Execute()
}
