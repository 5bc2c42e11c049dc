// Command toolguard decides whether agent tool invocations may run.
package main

import (
	"os"

	"github.com/opencode-ai/toolguard/cmd/toolguard/commands"
)

func main() {
	os.Exit(commands.Execute())
}
