package main

import (
	"errors"
	"log"
	"os"
	"path/filepath"

	"github.com/kardianos/service"
	vdpa "github.com/shahafsh/virtio-emulation"
)

// program runs vdpad under the platform service manager.
type program struct {
	configPath string
	build      string

	log     service.Logger
	control *vdpa.Control
}

func (p *program) Start(service.Service) error {
	// Must not block, the service manager is waiting on us
	if p.control != nil {
		return errors.New("vdpad is already running")
	}

	ctrl, _, err := loadControl(p.configPath, false, p.build)
	if err != nil {
		return err
	}
	p.control = ctrl
	p.control.Start()
	_ = p.log.Info("vdpad service started")
	return nil
}

func (p *program) Stop(service.Service) error {
	if p.control == nil {
		return nil
	}
	p.control.Stop()
	p.control = nil
	_ = p.log.Info("vdpad service stopped")
	return nil
}

func serviceConfig(configPath string) *service.Config {
	return &service.Config{
		Name:        "vdpad",
		DisplayName: "virtio-net accelerator backend",
		Description: "Provisions accelerator receive queues and relays guest notifications for vhost-user virtio-net devices",
		Arguments:   []string{"-service", "run", "-config", configPath},
	}
}

// doService runs or controls the system service. action is "run" or one of
// service.ControlAction.
func doService(configPath string, build string, action string) error {
	if configPath == "" {
		ex, err := os.Executable()
		if err != nil {
			return err
		}
		configPath = filepath.Join(filepath.Dir(ex), "config.yml")
	}

	prg := &program{configPath: configPath, build: build, log: service.ConsoleLogger}
	s, err := service.New(prg, serviceConfig(configPath))
	if err != nil {
		return err
	}

	if action != "run" {
		if err := service.Control(s, action); err != nil {
			log.Printf("Valid actions: %q\n", service.ControlAction)
			return err
		}
		return nil
	}

	if prg.log, err = s.Logger(nil); err != nil {
		return err
	}
	return s.Run()
}
