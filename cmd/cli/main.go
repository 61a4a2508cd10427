package main

import (
	"github.com/alecthomas/kong"
)

var cli struct {
	Globals
	Commands
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("accountbook"),
		kong.Description("Operate account-book ledgers: import files, stage and migrate outbox drafts."),
		kong.UsageOnError(),
		kong.Bind(&cli.Globals),
	)

	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
