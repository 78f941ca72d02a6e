// hotstuff is a CLI which runs one validator of the chained BFT engine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gitzhang10/chainedbft/config"
	"github.com/gitzhang10/chainedbft/hotstuff"
	"github.com/hashicorp/go-hclog"
	"github.com/urfave/cli/v2"
)

func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "hotstuff-main",
		Output: hclog.DefaultOutput,
		Level:  hclog.Info,
	})
	app := cli.App{
		Usage: "chained BFT state machine replication",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run a validator",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "committee",
						Usage:    "Path to the committee file",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "keys",
						Usage:    "Path to the node's key file",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "store",
						Usage:    "Path to the store directory",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "parameters",
						Usage: "Path to the parameters file, defaults apply when omitted",
					},
				},
				Action: func(c *cli.Context) error {
					params, err := config.LoadParameters(c.String("parameters"))
					if err != nil {
						return err
					}
					node, err := hotstuff.NewNode(c.String("committee"), c.String("keys"), c.String("store"), params)
					if err != nil {
						return err
					}
					defer node.Close()

					ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
					defer stop()
					fmt.Printf("%s starts the hotstuff!\n", node.Name())
					return node.Run(ctx, func(b *hotstuff.Block) {
						logger.Info("committed", "round", b.Round, "author", b.Author, "payload", b.Payload.Short())
					})
				},
			},
			{
				Name:  "keys",
				Usage: "Generate a key file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "filename",
						Usage:    "Path of the key file to write",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "name",
						Usage: "Name of the authority",
						Value: "node0",
					},
				},
				Action: func(c *cli.Context) error {
					secret := config.NewSecret(c.String("name"))
					return config.WriteSecret(c.String("filename"), secret)
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		logger.Error("fail running application", "error", err)
		os.Exit(1)
	}
}
