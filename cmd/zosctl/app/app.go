/*
   Copyright The containerd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package app assembles the zosctl cli.App, modeled on cmd/ctr/app's
// single-binary-many-subcommands shape.
package app

import (
	"fmt"

	"github.com/containerd/log"
	"github.com/urfave/cli/v2"

	"github.com/zeroos/kernel/cmd/zosctl/commands/serve"
	versioncmd "github.com/zeroos/kernel/cmd/zosctl/commands/version"
)

// Version is stamped by the release build; left as "dev" otherwise.
var Version = "dev"

func init() {
	cli.VersionPrinter = func(cliContext *cli.Context) {
		fmt.Println(cliContext.App.Name, cliContext.App.Version)
	}
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "Print the version",
	}
}

// New returns a *cli.App instance for zosctl.
func New() *cli.App {
	app := cli.NewApp()
	app.Name = "zosctl"
	app.Version = Version
	app.Usage = "boot and inspect a zeroos kernel instance"
	app.Description = `
zosctl boots a zeroos kernel in-process: it brings up the HAL, the
kernel, the supervisor, and the fixed service boot order (permissions,
vfs, keystore, time), then serves until interrupted. There is no
separate daemon process to dial into — each invocation owns its own
kernel instance for the lifetime of the command.`
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "Enable debug output in logs",
		},
	}
	app.Commands = []*cli.Command{
		serve.Command,
		versioncmd.Command,
	}
	app.Before = func(cliContext *cli.Context) error {
		if cliContext.Bool("debug") {
			return log.SetLevel("debug")
		}
		return nil
	}
	return app
}
