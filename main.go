package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver

	"go-rfu/config"
	"go-rfu/control"
	"go-rfu/debug"
	"go-rfu/dmx"
	"go-rfu/midi"
	"go-rfu/rfu"
	"go-rfu/tui"
)

var (
	configPath string
	debugFlag  bool
	deviceFlag string
	portFlag   string

	rootCmd = &cobra.Command{
		Use:   "go-rfu",
		Short: "Remote focus unit server: keypad/fader surfaces over OSC driving a DMX universe.",
		Args:  cobra.NoArgs,
		RunE:  run,

		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&configPath, "config", "c", config.DefaultPath, "config file")
	flags.BoolVar(&debugFlag, "debug", false, "debug logging")
	flags.StringVar(&deviceFlag, "device", "", "output device: enttec, midi or none (overrides config)")
	flags.StringVar(&portFlag, "port", "", "serial or MIDI port name (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debugFlag {
		cfg.Debug = true
	}
	if deviceFlag != "" {
		cfg.Device.Type = config.DeviceType(deviceFlag)
	}
	if portFlag != "" {
		cfg.Device.Port = portFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := debug.Open(cfg.LogFile, cfg.Debug); err != nil {
		return errors.Wrap(err, "open log")
	}
	defer debug.Close()
	log := debug.With("main")

	// no output, no server
	device, err := openDevice(cfg.Device)
	if err != nil {
		log.Errorf("open device: %v", err)
		return err
	}
	defer device.Close()

	dispatcher := control.New(control.OSCDialer(cfg.SendPort))
	backend := rfu.NewBackend(device, dispatcher, rfu.WithPadWidth(cfg.KeypadWidth))
	rfu.Bind(dispatcher, backend)

	for _, ep := range cfg.Endpoints {
		if err := backend.AddUnit(ep); err != nil {
			log.WithField("endpoint", ep).Warnf("pre-register: %v", err)
		}
	}

	addr := cfg.ReceiveAddr()
	server, err := control.Listen(addr, dispatcher)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Serve(ctx); err != nil {
			log.Errorf("receiver: %v", err)
		}
	}()

	status := fmt.Sprintf("osc %s -> :%d  out %s", server.Addr(), cfg.SendPort, deviceName(device))
	if debug.Verbose() {
		status += "  [debug]"
	}
	log.WithFields(logrus.Fields{"listen": addr, "send_port": cfg.SendPort}).Info("started")

	console := tui.NewConsole(backend, cfg, configPath)
	p := tea.NewProgram(tui.NewModel(console, backend, status), tea.WithAltScreen())
	_, tuiErr := p.Run()

	fmt.Println("Closing OSC receiver.")
	server.Close()
	fmt.Println("Waiting for receiver to finish")
	wg.Wait()
	fmt.Println("Done")

	return tuiErr
}

func openDevice(dc config.DeviceConfig) (dmx.Device, error) {
	switch dc.Type {
	case config.DeviceNone:
		return dmx.NewMemory(), nil

	case config.DeviceMIDI:
		return midi.OpenOutput(dc.Port)

	default:
		port := dc.Port
		if port == "" {
			var err error
			if port, err = dmx.SelectPort(); err != nil {
				return nil, err
			}
		}
		return dmx.OpenEnttec(port)
	}
}

func deviceName(d dmx.Device) string {
	switch dev := d.(type) {
	case *dmx.Enttec:
		return "enttec " + dev.Name()
	case *midi.Output:
		return "midi " + dev.Name()
	}
	return "none"
}
