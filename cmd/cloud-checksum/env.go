package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func lookupEnv(key string) (string, bool) {
	return os.LookupEnv(key)
}

func logrusDebugLevel() logrus.Level {
	return logrus.DebugLevel
}
