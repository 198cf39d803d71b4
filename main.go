//    Copyright 2024 netnook
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	terminate "github.com/pulcy/go-terminate"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/netnook/gpio2mqtt/model"
	"github.com/netnook/gpio2mqtt/server"
	"github.com/netnook/gpio2mqtt/service"
	"github.com/netnook/gpio2mqtt/service/bridge"
	"github.com/netnook/gpio2mqtt/service/mqtt"
)

const (
	projectName       = "gpio2mqtt"
	defaultConfigFile = "./gpio2mqtt.yaml"
	defaultChip       = "gpiochip0"
)

var (
	projectVersion = "dev"
	projectBuild   = "dev"
)

func main() {
	var configFile string
	var levelFlag string
	var chipName string

	pflag.StringVarP(&configFile, "config", "c", defaultConfigFile, "Configuration file")
	pflag.StringVarP(&levelFlag, "level", "l", "info", "Set log level")
	pflag.StringVar(&chipName, "chip", defaultChip, "GPIO character device to use")
	pflag.Parse()

	level, err := zerolog.ParseLevel(levelFlag)
	if err != nil {
		Exitf("Invalid log level '%s': %v\n", levelFlag, err)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	conf, err := model.LoadConfig(configFile)
	if err != nil {
		Exitf("Configuration error: %v\n", err)
	}

	br, err := bridge.NewChip(chipName, logger)
	if err != nil {
		Exitf("Failed to open GPIO chip '%s': %v\n", chipName, err)
	}
	defer br.Close()

	client := mqtt.NewClient(mqtt.Config{
		Host:     conf.Mqtt.Host,
		Port:     conf.Mqtt.Port,
		UserName: conf.Mqtt.Username,
		Password: conf.Mqtt.Password,
		ClientID: conf.Mqtt.ClientID,
	}, logger)

	svc, err := service.NewService(service.Config{
		Topic:     conf.Mqtt.Topic,
		Heartbeat: time.Duration(conf.Publish.Interval) * time.Second,
		OnChange:  conf.Publish.OnChange,
		Inputs:    conf.Inputs,
		Outputs:   conf.Outputs,
	}, service.Dependencies{
		Log:    logger,
		Bridge: br,
		Client: client,
	})
	if err != nil {
		Exitf("Failed to initialize service: %v\n", err)
	}

	// Prepare to shutdown in a controlled manor
	ctx, cancel := context.WithCancel(context.Background())
	t := terminate.NewTerminator(func(template string, args ...interface{}) {
		logger.Info().Msgf(template, args...)
	}, cancel)
	go t.ListenSignals()

	fmt.Printf("Starting %s (version %s build %s)\n", projectName, projectVersion, projectBuild)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(ctx) })
	if conf.Metrics.Enabled {
		httpServer, err := server.NewServer(server.Config{
			Host: conf.Metrics.Host,
			Port: conf.Metrics.Port,
		}, svc, logger)
		if err != nil {
			Exitf("Failed to initialize Server: %v\n", err)
		}
		g.Go(func() error { return httpServer.Run(ctx) })
	}
	if err := g.Wait(); err != nil {
		Exitf("Bridge failed: %v\n", err)
	}
}

// Print the given error message and exit with code 1
func Exitf(message string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, message, args...)
	os.Exit(1)
}
