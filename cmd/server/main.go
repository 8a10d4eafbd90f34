package main

import (
	"github.com/ds124wfegd/transferbook/config"
	"github.com/ds124wfegd/transferbook/internal/appServer"

	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	appServer.NewServer(cfg)
}
