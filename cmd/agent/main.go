package main

import "github.com/ramiqadoumi/agentq/services/agent/cli"

func main() {
	cli.Execute()
}
