// Command spaceloc-cli is a thin operator tool around the location
// service's admin surface (space.loc.properties, space.loc.object),
// mirroring the teacher's cmd/cli: one urfave/cli app, one command per
// admin call, flags resolved through the context rather than parsed by
// hand.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/openmetaverse/spaceloc/cmn/cos"
	"github.com/openmetaverse/spaceloc/core/locservice"
)

var handlerTypeFlag = cli.StringFlag{
	Name:  "handler",
	Usage: "proximity handler type: brute, rtree, dist, rtreecut, rtreecutagg, level",
	Value: "rtree",
}

func main() {
	app := cli.NewApp()
	app.Name = "spaceloc"
	app.Usage = "inspect a location service instance's admin surface"
	app.Commands = []cli.Command{
		propertiesCmd,
		objectCmd,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var propertiesCmd = cli.Command{
	Name:  "properties",
	Usage: "print space.loc.properties for a freshly constructed handler",
	Flags: []cli.Flag{handlerTypeFlag},
	Action: func(c *cli.Context) error {
		svc := locservice.New(c.String("handler"))
		out, err := svc.Properties(c.String("handler"))
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var objectCmd = cli.Command{
	Name:      "object",
	Usage:     "print space.loc.object for an object id (hex)",
	ArgsUsage: "OBJECT_ID",
	Flags:     []cli.Flag{handlerTypeFlag},
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return missingArgumentError(c, "OBJECT_ID")
		}
		id, err := cos.ObjectIDFromString(c.Args().Get(0))
		if err != nil {
			return err
		}
		svc := locservice.New(c.String("handler"))
		out, err := svc.Object(id)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func missingArgumentError(c *cli.Context, name string) error {
	return fmt.Errorf("%s: missing argument %q", c.Command.Name, name)
}
