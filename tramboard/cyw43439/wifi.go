// Package cyw43439 brings up WiFi connectivity on the Pico W's CYW43439
// wireless chip: device init, WPA2 join, DHCPv4 with gateway resolution, and
// the packet pump the lneto stack needs.
//
// Adapted from the examples in the soypat/cyw43439 repository:
// https://github.com/soypat/cyw43439/tree/main/examples/common
package cyw43439

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/soypat/cyw43439"
	"github.com/soypat/lneto/x/xnet"
)

const mtu = cyw43439.MTU

// Config configures the network stack behind the wireless device.
type Config struct {
	// Hostname is used for DHCP requests. Required.
	Hostname string
	// MaxTCPConns is the number of TCP connections the stack can hold open.
	MaxTCPConns int
	Logger      *slog.Logger
	// RandSeed optionally seeds the stack PRNG; boot-time jitter is mixed in.
	RandSeed int64
}

// Stack couples the CYW43439 device with the lneto userspace stack.
type Stack struct {
	s       xnet.StackAsync
	dev     *cyw43439.Device
	log     *slog.Logger
	sendbuf []byte
}

// Join initializes the wireless chip, joins the WPA2 (or open) network and
// wires the device into a fresh lneto stack. It retries the join forever:
// on an appliance with no other job there is nothing better to do.
func Join(ssid, pass string, cfg Config) (*Stack, error) {
	if cfg.Hostname == "" {
		return nil, errors.New("empty hostname")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127), // no logging
		}))
	}

	start := time.Now()
	dev := cyw43439.NewPicoWDevice()
	dev.SetLogger(logger)

	logger.Info("cyw43439:init-start")
	if err := dev.Init(cyw43439.DefaultWifiConfig()); err != nil {
		return nil, errors.New("wifi init failed:" + err.Error())
	}
	logger.Info("cyw43439:init-done", slog.Duration("duration", time.Since(start)))

	if len(pass) == 0 {
		logger.Info("wifi:joining open network", slog.String("ssid", ssid))
	} else {
		logger.Info("wifi:joining WPA2 network", slog.String("ssid", ssid))
	}
	for {
		err := dev.JoinWPA2(ssid, pass)
		if err == nil {
			break
		}
		logger.Error("wifi:join-failed", slog.String("err", err.Error()))
		time.Sleep(5 * time.Second)
	}

	mac, err := dev.HardwareAddr6()
	if err != nil {
		return nil, errors.New("get hardware address:" + err.Error())
	}
	logger.Info("wifi:joined", slog.String("mac", net.HardwareAddr(mac[:]).String()))

	stack := &Stack{
		dev:     dev,
		log:     logger,
		sendbuf: make([]byte, mtu),
	}
	maxTCP := cfg.MaxTCPConns
	if maxTCP < 1 {
		maxTCP = 1
	}
	err = stack.s.Reset(xnet.StackConfig{
		Hostname:        cfg.Hostname,
		MaxTCPConns:     maxTCP,
		RandSeed:        time.Since(start).Nanoseconds() ^ cfg.RandSeed,
		HardwareAddress: mac,
		MTU:             mtu,
	})
	if err != nil {
		return nil, errors.New("stack reset:" + err.Error())
	}
	dev.RecvEthHandle(func(pkt []byte) error {
		return stack.s.Demux(pkt, 0)
	})
	return stack, nil
}

// SetupWithDHCP acquires an address via DHCPv4 and resolves the router's
// hardware address as the gateway. hostname goes into the DHCP request.
func (s *Stack) SetupWithDHCP(hostname string) (netip.Addr, error) {
	const pollTime = 50 * time.Millisecond
	rstack := s.s.StackRetrying(pollTime)

	s.log.Info("dhcp:starting")
	results, err := rstack.DoDHCPv4([4]byte{0, 0, 0, 0}, 3*time.Second, 3)
	if err != nil {
		return netip.Addr{}, errors.New("dhcp failed:" + err.Error())
	}
	if err := s.s.AssimilateDHCPResults(results); err != nil {
		return netip.Addr{}, errors.New("assimilate dhcp:" + err.Error())
	}

	gatewayHW, err := rstack.DoResolveHardwareAddress6(results.Router, 500*time.Millisecond, 4)
	if err != nil {
		return netip.Addr{}, errors.New("resolve gateway:" + err.Error())
	}
	s.s.SetGateway6(gatewayHW)

	s.log.Info("dhcp:complete",
		slog.String("ourIP", results.AssignedAddr.String()),
		slog.String("router", results.Router.String()),
		slog.Uint64("lease_sec", uint64(results.TLease)),
	)
	return results.AssignedAddr, nil
}

// RecvAndSend moves one batch of packets in each direction. It must be
// called in a loop from its own goroutine for the stack to make progress.
func (s *Stack) RecvAndSend() (send, recv int, err error) {
	gotPacket, errRecv := s.dev.PollOne()
	if gotPacket {
		recv = 1
	}
	if errRecv != nil {
		s.log.Error("stack:poll", slog.String("err", errRecv.Error()))
	}

	send, err = s.s.Encapsulate(s.sendbuf, -1, 0)
	if err != nil {
		s.log.Error("stack:encapsulate", slog.Int("plen", send), slog.String("err", err.Error()))
	} else {
		err = errRecv
	}
	if send == 0 {
		return send, recv, err
	}
	if err := s.dev.SendEth(s.sendbuf[:send]); err != nil {
		s.log.Error("stack:send", slog.Int("plen", send), slog.String("err", err.Error()))
		return send, recv, err
	}
	return send, recv, err
}

// LnetoStack exposes the underlying stack for TCP dials and DNS lookups.
func (s *Stack) LnetoStack() *xnet.StackAsync { return &s.s }

// Prand32 returns a pseudo-random 32-bit number from the stack PRNG.
func (s *Stack) Prand32() uint32 { return s.s.Prand32() }

// Addr returns the stack's current IP address.
func (s *Stack) Addr() netip.Addr { return s.s.Addr() }
