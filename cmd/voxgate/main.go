// voxgate runs the local voice-command gateway daemon and control CLI.
package main

import "github.com/voxgate/voxgate/internal/cli"

func main() {
	cli.Execute()
}
