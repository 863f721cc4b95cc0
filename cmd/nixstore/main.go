package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/nixstore/nixstore/internal/cli"
)

func main() {
	logrus.SetLevel(logrus.InfoLevel)

	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
