package main

import (
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/trungnn/zipkit/internal/unzipcmd"
	"github.com/trungnn/zipkit/internal/zipcmd"
)

var opts struct {
	Zip   zipcmd.Command   `command:"zip" description:"archive a directory or list of files into a ZIP archive"`
	Unzip unzipcmd.Command `command:"unzip" alias:"extract" description:"extract archives to a directory"`
}

func main() {
	p := flags.NewParser(&opts, flags.Default)

	if _, err := p.Parse(); err != nil && !flags.WroteHelp(err) {
		os.Exit(1)
	}
}
