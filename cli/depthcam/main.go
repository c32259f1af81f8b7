// Package main is the depthcam command itself.
package main

import (
	"log"
	"os"

	"go.viam.com/depthcam/cli"
	// register the simulated sensor.
	_ "go.viam.com/depthcam/components/camera/fake"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
