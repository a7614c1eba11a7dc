package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"go-rfu/config"
	"go-rfu/rfu"
)

// Registry is the part of the backend the console drives
type Registry interface {
	AddUnit(endpoint string) error
	RemoveUnit(endpoint string) bool
	Units() []rfu.UnitInfo
	SetLevel(channel int, level uint8) error
}

// Command is one parsed console line: name[:arg]
type Command struct {
	Name string
	Arg  string
}

var ErrUnknownCommand = errors.New("unknown command")

// needsArg lists commands that take an argument after ':'
var needsArg = map[string]bool{
	"add":   true,
	"del":   true,
	"level": true,
}

// ParseCommand parses add:<endpoint>, del:<endpoint>, level:<ch>=<value>,
// list, save, help and q.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	name, arg, _ := strings.Cut(line, ":")
	cmd := Command{Name: strings.ToLower(strings.TrimSpace(name)), Arg: strings.TrimSpace(arg)}

	switch cmd.Name {
	case "add", "del", "level", "list", "save", "help", "q":
	default:
		return Command{}, errors.Wrapf(ErrUnknownCommand, "%q", line)
	}
	if needsArg[cmd.Name] && cmd.Arg == "" {
		return Command{}, errors.Errorf("%s needs an argument, e.g. %s:10.0.0.5", cmd.Name, cmd.Name)
	}
	return cmd, nil
}

// parseLevel parses "<channel>=<level>"
func parseLevel(arg string) (int, uint8, error) {
	chStr, valStr, ok := strings.Cut(arg, "=")
	if !ok {
		return 0, 0, errors.Errorf("want <channel>=<level>, got %q", arg)
	}
	ch, err := strconv.Atoi(strings.TrimSpace(chStr))
	if err != nil {
		return 0, 0, errors.Wrap(err, "channel")
	}
	v, err := strconv.ParseUint(strings.TrimSpace(valStr), 10, 8)
	if err != nil {
		return 0, 0, errors.Wrap(err, "level")
	}
	return ch, uint8(v), nil
}

// Console runs admin commands against the backend
type Console struct {
	reg        Registry
	cfg        *config.Config
	configPath string
}

// NewConsole creates a console. cfg is the running config; add and del keep
// its endpoint list current. It may be nil, which disables save.
func NewConsole(reg Registry, cfg *config.Config, configPath string) *Console {
	return &Console{reg: reg, cfg: cfg, configPath: configPath}
}

// Run executes one line and returns what to print and whether to quit
func (c *Console) Run(line string) (out []string, quit bool) {
	if strings.TrimSpace(line) == "" {
		return nil, false
	}
	cmd, err := ParseCommand(line)
	if err != nil {
		return []string{err.Error(), "type help for commands"}, false
	}

	switch cmd.Name {
	case "q":
		return []string{"bye"}, true

	case "help":
		return helpLines, false

	case "add":
		if err := c.reg.AddUnit(cmd.Arg); err != nil {
			return []string{fmt.Sprintf("add %s: %v", cmd.Arg, err)}, false
		}
		if c.cfg != nil {
			c.cfg.AddEndpoint(cmd.Arg)
		}
		return []string{"added " + cmd.Arg}, false

	case "del":
		addr := cmd.Arg
		for _, u := range c.reg.Units() {
			if u.Endpoint == cmd.Arg {
				addr = u.Address
			}
		}
		if !c.reg.RemoveUnit(cmd.Arg) {
			return []string{cmd.Arg + " is not registered"}, false
		}
		if c.cfg != nil {
			c.cfg.RemoveEndpoint(addr)
		}
		return []string{"removed " + cmd.Arg}, false

	case "list":
		units := c.reg.Units()
		if len(units) == 0 {
			return []string{"no units"}, false
		}
		for _, u := range units {
			out = append(out, fmt.Sprintf("%-16s ch %3d  @ %3d", u.Endpoint, u.Channel, u.Level))
		}
		return out, false

	case "level":
		ch, v, err := parseLevel(cmd.Arg)
		if err == nil {
			err = c.reg.SetLevel(ch, v)
		}
		if err != nil {
			return []string{"level: " + err.Error()}, false
		}
		return []string{fmt.Sprintf("channel %d @ %d", ch, v)}, false

	case "save":
		if c.cfg == nil {
			return []string{"no config to save"}, false
		}
		n, err := c.save()
		if err != nil {
			return []string{"save: " + err.Error()}, false
		}
		return []string{fmt.Sprintf("saved %d endpoints to %s", n, c.configPath)}, false
	}
	return nil, false
}

// save rewrites the endpoint list in the config file. The rest of the file
// is reloaded from disk so command-line overrides are not persisted.
func (c *Console) save() (int, error) {
	disk, err := config.Load(c.configPath)
	if err != nil {
		return 0, err
	}
	disk.Endpoints = nil
	for _, u := range c.reg.Units() {
		disk.AddEndpoint(u.Address)
	}
	if err := disk.Save(c.configPath); err != nil {
		return 0, err
	}
	c.cfg.Endpoints = append([]string(nil), disk.Endpoints...)
	return len(disk.Endpoints), nil
}

var helpLines = []string{
	"add:<endpoint>       register a remote unit (e.g. add:10.0.0.5)",
	"del:<endpoint>       remove a remote unit",
	"list                 show registered units",
	"level:<ch>=<0-255>   set a channel from the console",
	"save                 write registered endpoints to the config file",
	"help                 this help",
	"q                    quit",
}
