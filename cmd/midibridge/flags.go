package main

import (
	"flag"
	"time"

	"github.com/leandrodaf/midibridge/internal/config"
)

type initOptions struct {
	configFile  string
	listDevices bool
	versionFlag bool

	driver      string
	input       string
	output      string
	host        string
	hostRecv    string
	profile     string
	profileDir  string
	logfile     string
	logLevel    string
	status      string
	queueSize   int
	refresh     time.Duration
	development bool
}

func parseFlags() initOptions {
	var options initOptions
	flag.StringVar(
		&(options.configFile),
		"c",
		"",
		"Read configuration from a YAML file; flags given on the command line take precedence",
	)
	flag.BoolVar(
		&(options.listDevices),
		"list",
		false,
		"List MIDI endpoints of the selected driver and exit",
	)
	flag.StringVar(
		&(options.driver),
		"driver",
		"",
		"MIDI driver: coremidi, winmm, rtmidi or loop. Defaults to the native driver of the OS",
	)
	flag.StringVar(
		&(options.input),
		"in",
		"",
		"Name of the MIDI input endpoint",
	)
	flag.StringVar(
		&(options.output),
		"out",
		"",
		"Name of the MIDI output endpoint used for feedback. Empty disables feedback",
	)
	flag.StringVar(
		&(options.host),
		"host",
		config.DefaultHostAddress,
		"Address of the host application command socket",
	)
	flag.StringVar(
		&(options.hostRecv),
		"host-recv",
		config.DefaultHostReceiveAddress,
		"Address of the host notification socket. Empty uses the command socket for both directions",
	)
	flag.StringVar(
		&(options.profile),
		"p",
		"",
		"Profile activated at start",
	)
	flag.StringVar(
		&(options.profileDir),
		"profiles",
		"",
		"Directory searched when the host switches profiles",
	)
	flag.StringVar(
		&(options.logfile),
		"l",
		"",
		"Log into a file, rotating after 20MB",
	)
	flag.StringVar(
		&(options.logLevel),
		"log-level",
		"info",
		"Log level: debug, info, warn or error",
	)
	flag.BoolVar(
		&(options.development),
		"dev",
		false,
		"Write human readable console logs instead of JSON",
	)
	flag.StringVar(
		&(options.status),
		"status",
		"",
		"Serve the status page on this address, for example 127.0.0.1:21500",
	)
	flag.IntVar(
		&(options.queueSize),
		"queue",
		0,
		"Capacity of the host send queue",
	)
	flag.DurationVar(
		&(options.refresh),
		"refresh",
		0,
		"Retry interval for missing MIDI endpoints",
	)
	flag.BoolVar(
		&(options.versionFlag),
		"version",
		false,
		"Write version",
	)
	flag.Parse()
	return options
}

// apply copies every flag that was set explicitly, or every flag when no config file is
// used, onto c.
func (o initOptions) apply(c *config.Config) {
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	use := func(name string) bool { return o.configFile == "" || set[name] }

	if use("driver") {
		c.Driver = o.driver
	}
	if use("in") {
		c.Input = o.input
	}
	if use("out") {
		c.Output = o.output
	}
	if use("host") {
		c.Host.Address = o.host
	}
	if use("host-recv") {
		c.Host.ReceiveAddress = o.hostRecv
	}
	if use("p") {
		c.Profile.Path = o.profile
	}
	if use("profiles") {
		c.Profile.Dir = o.profileDir
	}
	if use("l") {
		c.Log.File = o.logfile
	}
	if use("log-level") {
		c.Log.Level = o.logLevel
	}
	if use("status") {
		c.StatusAddress = o.status
	}
	if use("queue") {
		c.Host.QueueSize = o.queueSize
	}
	if use("refresh") {
		c.DeviceRefresh = config.Duration(o.refresh)
	}
}
