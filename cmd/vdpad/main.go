package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"strings"

	vdpa "github.com/shahafsh/virtio-emulation"
	"github.com/shahafsh/virtio-emulation/config"
	"github.com/shahafsh/virtio-emulation/util"
	"github.com/sirupsen/logrus"
)

// A version string that can be set with
//
//	-ldflags "-X main.Build=SOMEVERSION"
//
// at compile-time.
var Build string

func init() {
	if Build == "" {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}

		Build = strings.TrimPrefix(info.Main.Version, "v")
	}
}

func main() {
	serviceFlag := flag.String("service", "", "Control the system service.")
	configPath := flag.String("config", "", "Path to either a file or directory to load configuration from")
	configTest := flag.Bool("test", false, "Test the config and print the end result. Non zero exit indicates a faulty config")
	printVersion := flag.Bool("version", false, "Print version")
	printUsage := flag.Bool("help", false, "Print command line usage")

	flag.Parse()

	if *printVersion {
		fmt.Printf("Version: %s\n", Build)
		os.Exit(0)
	}

	if *printUsage {
		flag.Usage()
		os.Exit(0)
	}

	if *serviceFlag != "" {
		if err := doService(*configPath, Build, *serviceFlag); err != nil {
			log.Fatal(err)
		}
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Println("-config flag must be set")
		flag.Usage()
		os.Exit(1)
	}

	ctrl, l, err := loadControl(*configPath, *configTest, Build)
	if err != nil {
		os.Exit(1)
	}

	if !*configTest {
		ctrl.Start()
		notifyReady(l)
		ctrl.ShutdownBlock()
	}

	os.Exit(0)
}

// loadControl loads the config at configPath and builds the backend from it.
// The control is nil when configTest is set and the config is good.
func loadControl(configPath string, configTest bool, build string) (*vdpa.Control, *logrus.Logger, error) {
	l := logrus.New()
	l.Out = os.Stdout

	c := config.NewC(l)
	if err := c.Load(configPath); err != nil {
		l.WithError(err).WithField("config", configPath).Error("Failed to load config")
		return nil, l, err
	}

	// The vhost-user transport attaches itself through Control.Backend
	ctrl, err := vdpa.Main(c, configTest, build, l, nil)
	if err != nil {
		util.LogWithContextIfNeeded("Failed to start", err, l)
		return nil, l, err
	}
	return ctrl, l, nil
}
