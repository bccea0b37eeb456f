package main

import (
	"os"

	"github.com/BTreeMap/StatusPipe/cmd/StatusPipe/commands"
	"github.com/alecthomas/kong"
)

var version = "dev"

func main() {
	cli := &commands.CLI{}
	ctx := kong.Parse(cli,
		kong.Name("statuspipe"),
		kong.Description("Exposure and symptom status tracking daemon."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)
	err := ctx.Run(&commands.Global{Out: os.Stdout}, cli)
	ctx.FatalIfErrorf(err)
}
