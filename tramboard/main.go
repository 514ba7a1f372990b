package main

import (
	"errors"
	"log/slog"
	"machine"
	"sync"
	"time"

	"github.com/harveysanders/picotram/tramboard/board"
	"github.com/harveysanders/picotram/tramboard/button"
	"github.com/harveysanders/picotram/tramboard/cyw43439"
	"github.com/harveysanders/picotram/tramboard/lcd"
	"github.com/harveysanders/picotram/tramboard/mqtt"
	"tinygo.org/x/drivers/hd44780i2c"
)

// Set at link time, e.g.
//
//	tinygo flash -target=pico-w \
//	  -ldflags="-X 'main.ssid=MyNet' -X 'main.pass=hunter2' -X 'main.mqttAddr=10.0.0.9:1883'"
var (
	ssid     string
	pass     string
	mqttAddr = "10.0.0.9:1883"
	mqttUser string
	mqttPass string
)

const (
	hostname    = "picotram"
	topicFilter = "next-tramway/line/#"

	// 2004A panel: 20 columns, 4 rows.
	displayWidth  = 20
	displayHeight = 4
)

func main() {
	logger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	startWatchdog()

	err := machine.I2C0.Configure(machine.I2CConfig{
		SDA: machine.GP4,
		SCL: machine.GP5,
	})
	if err != nil {
		printErrForever(logger, "configure I2C", slog.Any("reason", err))
	}

	display, err := configureLCD(machine.I2C0)
	if err != nil {
		printErrForever(logger, "configure LCD", slog.Any("reason", err))
	}

	// The I2C bus is the only resource shared across tasks; the renderer
	// holds this lock per row write only.
	var i2cBus sync.Mutex
	renderer := lcd.New(&display, lcd.Config{
		Width:  displayWidth,
		Height: displayHeight,
		Bus:    &i2cBus,
		Logger: logger,
	})
	renderer.Clear()

	commands := make(chan board.Command, 8)

	// Render task: sole owner of the model. Everything else only sends
	// commands into the queue.
	go func() {
		var model board.Model
		for cmd := range commands {
			model.Apply(cmd)
			renderer.Render(&model)
		}
	}()

	go button.New(machine.GP11).Watch(commands)

	commands <- board.UpdateMessage{Text: "Joining " + ssid + "..."}
	stack, err := cyw43439.Join(ssid, pass, cyw43439.Config{
		Hostname: hostname,
		Logger:   logger,
	})
	if err != nil {
		commands <- board.UpdateMessage{Text: "WiFi init failed"}
		printErrForever(logger, "wifi bring-up", slog.Any("reason", err))
	}

	// Packet pump for the userspace stack.
	go func() {
		for {
			stack.RecvAndSend()
			time.Sleep(2 * time.Millisecond)
		}
	}()

	commands <- board.UpdateMessage{Text: "WiFi up. DHCP..."}
	addr, err := stack.SetupWithDHCP(hostname)
	if err != nil {
		commands <- board.UpdateMessage{Text: "DHCP failed"}
		printErrForever(logger, "dhcp", slog.Any("reason", err))
	}
	commands <- board.UpdateMessage{Text: "IP " + addr.String()}

	client := mqtt.Client{
		ID:          hostname,
		Timeout:     5 * time.Second,
		TCPBufSize:  2030, // MTU - ethhdr - iphdr - tcphdr
		Logger:      logger,
		KeepAlive:   12 * time.Second,
		Username:    mqttUser,
		Password:    mqttPass,
		TopicFilter: topicFilter,
	}
	// Blocks forever through reconnects; returns only on setup errors.
	err = client.ConnectAndListen(stack, mqttAddr, commands)
	commands <- board.UpdateMessage{Text: "MQTT setup failed"}
	printErrForever(logger, "mqtt session", slog.Any("reason", err))
}

// configureLCD takes a preconfigured I2C peripheral and attempts to
// initialize the HD44780 LCD display on the common I2C addresses
// (0x27, 0x3F).
func configureLCD(i2c *machine.I2C) (hd44780i2c.Device, error) {
	addrs := []uint8{0x27, 0x3F}
	var display hd44780i2c.Device
	found := false

	for _, a := range addrs {
		dev := hd44780i2c.New(i2c, a)
		err := dev.Configure(hd44780i2c.Config{
			Width:  displayWidth,
			Height: displayHeight,
		})
		if err != nil {
			continue
		}
		display = dev
		found = true
		break
	}
	if !found {
		return display, errors.New("LCD not found on addresses: 0x27, 0x3f")
	}
	return display, nil
}

// startWatchdog arms the hardware watchdog and feeds it from its own task.
// If any task wedges the bus or the scheduler, the board resets and rebuilds
// its state from the next batch of retained updates.
func startWatchdog() {
	machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 10000})
	machine.Watchdog.Start()
	go func() {
		for {
			machine.Watchdog.Update()
			time.Sleep(2 * time.Second)
		}
	}()
}

// printErrForever prints a string to serial @ 1hz. It blocks forever.
func printErrForever(logger *slog.Logger, msg string, args ...any) {
	for {
		logger.Error(msg, args...)
		time.Sleep(time.Second)
	}
}
