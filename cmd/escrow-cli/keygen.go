package main

import (
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/escrow-network/escrow-daemon/config"
	"github.com/escrow-network/escrow-daemon/pkg/wire"
)

var keygen = cli.Command{
	Name:  "keygen",
	Usage: "generate the node signing key if one does not exist yet",
	Flags: []cli.Flag{
		&datadirFlag,
	},
	Action: keygenAction,
}

func keygenAction(ctx *cli.Context) error {
	keyPath := filepath.Join(
		ctx.String("datadir"), config.KeyLocation, "node.key",
	)

	if buf, err := ioutil.ReadFile(keyPath); err == nil {
		raw, err := hex.DecodeString(string(buf))
		if err != nil {
			return fmt.Errorf("corrupted key file %s: %w", keyPath, err)
		}
		kr := wire.KeyRingFromBytes(raw)
		printJSON(map[string]string{
			"status": "existing",
			"pubkey": hex.EncodeToString(kr.PubKey()),
		})
		return nil
	}

	kr, err := wire.NewKeyRing()
	if err != nil {
		return err
	}
	encoded := hex.EncodeToString(kr.Serialize())
	if err := ioutil.WriteFile(keyPath, []byte(encoded), 0600); err != nil {
		return err
	}

	printJSON(map[string]string{
		"status": "created",
		"pubkey": hex.EncodeToString(kr.PubKey()),
	})
	return nil
}
