package main

import (
	"os"

	"github.com/bobuhiro11/cpupolicy/flag"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := flag.Parse(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
