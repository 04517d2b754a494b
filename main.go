package main

import (
	"os"

	"github.com/josefmoeggis/RobotGUI/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
