package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/escrow-network/escrow-daemon/config"
)

var datadirFlag = cli.StringFlag{
	Name:  "datadir",
	Usage: "daemon data directory to inspect",
	Value: config.GetDatadir(),
}

func main() {
	app := cli.NewApp()

	app.Version = "0.0.1"
	app.Name = "escrow CLI"
	app.Usage = "Command line interface for escrowd daemon operators"
	app.Commands = append(
		app.Commands,
		&keygen,
		&previewtake,
		&listoffers,
		&listtrades,
		&listaddresses,
	)

	err := app.Run(os.Args)
	if err != nil {
		fatal(err)
	}
}

func printJSON(resp interface{}) {
	jsonStr, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		fmt.Println("unable to encode response: ", err)
		return
	}

	fmt.Println(string(jsonStr))
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "[escrow] %v\n", err)
	os.Exit(1)
}
