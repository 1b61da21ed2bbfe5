package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/thatsimonsguy/modbus-hvac/db"
	"github.com/thatsimonsguy/modbus-hvac/internal/config"
	"github.com/thatsimonsguy/modbus-hvac/internal/model"
	"github.com/thatsimonsguy/modbus-hvac/internal/project"
	"github.com/thatsimonsguy/modbus-hvac/internal/transport"
)

var (
	app    = kingpin.New("hvac-debug", "Operator tools for the HVAC controller.")
	dbPath = app.Flag("db", "Path to the exchange database.").Default("data/hvac.db").String()

	configFile = app.Flag("config-file", "Path to controller config file.").Default("config.json").String()

	readCmd      = app.Command("read", "Read raw registers from a device.")
	readBus      = readCmd.Flag("bus", "Bus id.").Required().Int()
	readDevice   = readCmd.Flag("device", "Device (slave) id.").Required().Uint8()
	readDatatype = readCmd.Flag("datatype", "Register table.").Required().Enum("co", "di", "hr", "ir")
	readAddress  = readCmd.Flag("address", "First address.").Required().Uint16()
	readCount    = readCmd.Flag("count", "Number of registers.").Default("1").Uint16()

	writeCmd      = app.Command("write", "Write one raw coil or holding register.")
	writeBus      = writeCmd.Flag("bus", "Bus id.").Required().Int()
	writeDevice   = writeCmd.Flag("device", "Device (slave) id.").Required().Uint8()
	writeDatatype = writeCmd.Flag("datatype", "Register table.").Required().Enum("co", "hr")
	writeAddress  = writeCmd.Flag("address", "Address.").Required().Uint16()
	writeValue    = writeCmd.Flag("value", "Raw value.").Required().Uint16()

	portsCmd = app.Command("ports", "List serial ports present on this host.")

	setCmd     = app.Command("set-override", "Activate a manual override.")
	setBus     = setCmd.Flag("bus", "Bus id.").Required().Int()
	setDevice  = setCmd.Flag("device", "Device id.").Required().Int()
	setField   = setCmd.Flag("field", "Override field, e.g. onoff, setpoint, speed.").Required().String()
	setCircuit = setCmd.Flag("circuit", "Circuit or channel index.").Default("0").Int()
	setValue   = setCmd.Flag("value", "Override value.").Required().Float64()

	clearCmd     = app.Command("clear-override", "Deactivate a manual override.")
	clearBus     = clearCmd.Flag("bus", "Bus id.").Required().Int()
	clearDevice  = clearCmd.Flag("device", "Device id.").Required().Int()
	clearField   = clearCmd.Flag("field", "Override field.").Required().String()
	clearCircuit = clearCmd.Flag("circuit", "Circuit or channel index.").Default("0").Int()

	dumpCmd  = app.Command("dump", "Print the last published snapshots and the override table.")
	dumpKind = dumpCmd.Flag("kind", "Only this kind (group, device).").Default("").Enum("", db.KindGroup, db.KindDevice)
)

func main() {
	app.HelpFlag.Short('h')
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	var err error
	switch command {
	case readCmd.FullCommand():
		err = read()
	case writeCmd.FullCommand():
		err = write()
	case portsCmd.FullCommand():
		err = ports()
	case setCmd.FullCommand():
		err = db.SetOverrideCLI(*dbPath, *setBus, *setDevice, *setField, *setCircuit, *setValue)
	case clearCmd.FullCommand():
		err = db.ClearOverrideCLI(*dbPath, *clearBus, *clearDevice, *clearField, *clearCircuit)
	case dumpCmd.FullCommand():
		err = db.DumpCLI(*dbPath, *dumpKind, os.Stdout)
	}

	if err != nil {
		fmt.Printf("Command %s failed: %v\n", command, err)
		os.Exit(1)
	}
	if command != dumpCmd.FullCommand() && command != readCmd.FullCommand() && command != portsCmd.FullCommand() {
		fmt.Printf("Command %s completed successfully\n", command)
	}
}

func openBus(id int) (*transport.Bus, error) {
	cfg := &config.Config{}
	if err := cfg.ReadFile(*configFile); err != nil {
		return nil, err
	}
	for _, b := range cfg.Buses {
		if b.ID != id {
			continue
		}
		client, err := project.OpenClient(b)
		if err != nil {
			return nil, err
		}
		return transport.NewBus(b.ID, client, nil), nil
	}
	return nil, fmt.Errorf("bus %d is not configured in %s", id, *configFile)
}

func read() error {
	bus, err := openBus(*readBus)
	if err != nil {
		return err
	}
	defer bus.Close()

	dt := model.Datatype(*readDatatype)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	values, err := bus.Read(ctx, *readDevice, transport.ReadCode(dt), *readAddress, *readCount)
	if err != nil {
		return err
	}
	for i, v := range values {
		fmt.Printf("%s %d: %d (0x%04X)\n", dt, int(*readAddress)+i, v, v)
	}
	return nil
}

func write() error {
	bus, err := openBus(*writeBus)
	if err != nil {
		return err
	}
	defer bus.Close()

	fc := transport.WriteSingleRegister
	if model.Datatype(*writeDatatype) == model.Coil {
		fc = transport.WriteSingleCoil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return bus.Write(ctx, *writeDevice, fc, *writeAddress, *writeValue)
}

func ports() error {
	list, err := transport.AvailablePorts()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No serial ports found")
	}
	for _, p := range list {
		fmt.Println(p)
	}
	return nil
}
