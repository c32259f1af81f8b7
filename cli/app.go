// Package cli contains the depthcam command line app.
package cli

import (
	"io"
	"time"

	"github.com/urfave/cli/v2"
)

const (
	generalFlagConfig = "config"
	generalFlagDebug  = "debug"

	runFlagDuration     = "duration"
	runFlagShots        = "shots"
	runFlagShotInterval = "shot-interval"
)

var app = &cli.App{
	Name:            "depthcam",
	Usage:           "capture photos with depth from a dual camera",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    generalFlagConfig,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:    generalFlagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "run",
			Usage:     "stream depth and take shots until the duration passes or the process is interrupted",
			UsageText: "depthcam --config <file> run [--duration <duration>] [--shots <count>]",
			Flags: []cli.Flag{
				&cli.DurationFlag{
					Name:  runFlagDuration,
					Usage: "how long to run for, zero runs until interrupted",
					Value: 5 * time.Second,
				},
				&cli.IntFlag{
					Name:  runFlagShots,
					Usage: "number of shots to take",
					Value: 1,
				},
				&cli.DurationFlag{
					Name:  runFlagShotInterval,
					Usage: "time between shots",
					Value: time.Second,
				},
			},
			Action: RunAction,
		},
		{
			Name:   "validate",
			Usage:  "check a configuration file",
			Action: ValidateAction,
		},
		{
			Name:   "models",
			Usage:  "list the registered sensor models",
			Action: ListModelsAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
