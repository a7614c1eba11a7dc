package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hypebeast/go-osc/osc"

	"go-rfu/control"
	"go-rfu/numpad"
)

const defaultServer = "127.0.0.1:8000"

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	var err error
	switch os.Args[1] {
	case "keys":
		err = sendKeys(os.Args[2:])
	case "fader":
		err = sendFader(os.Args[2:])
	case "listen":
		err = listen(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Remote surface simulator")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  keys <seq> [host:port]   - press keypad keys, e.g. 512E (C=clear, E=enter)")
	fmt.Println("  fader <0..1> [host:port] - move the level fader")
	fmt.Println("  listen [port]            - print feedback sent to this surface (default 9000)")
}

func client(args []string) (*osc.Client, error) {
	addr := defaultServer
	if len(args) > 0 {
		addr = args[0]
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}
	return osc.NewClient(host, port), nil
}

// cellFor finds the keypad cell for a typed character
func cellFor(r rune) (col, row int, ok bool) {
	var want numpad.Symbol
	switch {
	case r >= '0' && r <= '9':
		want = numpad.Symbol(r - '0')
	case r == 'C' || r == 'c':
		want = numpad.Clear
	case r == 'E' || r == 'e':
		want = numpad.Enter
	default:
		return 0, 0, false
	}
	for col := 0; col < numpad.Cols; col++ {
		for row := 0; row < numpad.Rows; row++ {
			if numpad.Keymap[col][row] == want {
				return col, row, true
			}
		}
	}
	return 0, 0, false
}

func sendKeys(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("keys needs a sequence")
	}
	c, err := client(args[1:])
	if err != nil {
		return err
	}

	for _, r := range strings.TrimSpace(args[0]) {
		col, row, ok := cellFor(r)
		if !ok {
			return fmt.Errorf("no key for %q", r)
		}
		addr := fmt.Sprintf("/RFU/DMXEntry/%d/%d", col+1, row+1)
		fmt.Printf("  %c -> %s\n", r, addr)

		// press then release, like a momentary button
		if err := c.Send(osc.NewMessage(addr, float32(1))); err != nil {
			return err
		}
		time.Sleep(20 * time.Millisecond)
		if err := c.Send(osc.NewMessage(addr, float32(0))); err != nil {
			return err
		}
		time.Sleep(20 * time.Millisecond)
	}
	return nil
}

func sendFader(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("fader needs a value")
	}
	v, err := strconv.ParseFloat(args[0], 32)
	if err != nil {
		return err
	}
	c, err := client(args[1:])
	if err != nil {
		return err
	}
	fmt.Printf("  %s = %.3f\n", control.AddressLevel, v)
	return c.Send(osc.NewMessage(control.AddressLevel, float32(v)))
}

func listen(args []string) error {
	port := "9000"
	if len(args) > 0 {
		port = args[0]
	}
	addr := "0.0.0.0:" + port

	d := osc.NewStandardDispatcher()
	err := d.AddMsgHandler("*", func(msg *osc.Message) {
		fmt.Printf("[%s] %s %v\n", time.Now().Format("15:04:05.000"), msg.Address, msg.Arguments)
	})
	if err != nil {
		return err
	}

	server := &osc.Server{Addr: addr, Dispatcher: d}
	fmt.Printf("Listening for feedback on %s (UDP). Ctrl+C to exit.\n", addr)
	return server.ListenAndServe()
}
