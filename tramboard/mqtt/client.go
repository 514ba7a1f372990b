package mqtt

import (
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"runtime"
	"time"

	"github.com/harveysanders/picotram/tramboard/board"
	"github.com/harveysanders/picotram/tramboard/cyw43439"
	"github.com/harveysanders/picotram/tramboard/wire"
	"github.com/soypat/lneto/tcp"
	mqtt "github.com/soypat/natiu-mqtt"
)

// Client subscribes to the arrival-update topic tree and feeds decoded
// commands into the render task's queue. It owns the whole connection
// lifecycle: DNS, TCP dial, MQTT session, keep-alive and reconnects.
type Client struct {
	ID          string
	Timeout     time.Duration
	TCPBufSize  int
	Logger      *slog.Logger
	KeepAlive   time.Duration // broker keep-alive; pings go out at half this
	Username    string        // MQTT broker username (optional)
	Password    string        // MQTT broker password (optional, requires Username)
	TopicFilter string        // e.g. "next-tramway/line/#"

	decoder      wire.Decoder
	decodeErrors uint32
}

// ConnectAndListen connects to the MQTT broker at addr, subscribes and
// dispatches updates into commands until a non-recoverable setup error.
// Session-level failures reconnect forever. The stack is provided from
// main.go where WiFi/DHCP are set up.
func (c *Client) ConnectAndListen(
	stack *cyw43439.Stack,
	addr string,
	commands chan<- board.Command,
) error {
	const readPoll = 250 * time.Millisecond

	c.Logger.Info("mqtt:broker address: " + addr)

	mqttHost, portStr, err := splitHostPort(addr)
	if err != nil {
		return errors.New("parsing host:port from " + addr + ": " + err.Error())
	}

	lnetoStack := stack.LnetoStack()
	rstack := lnetoStack.StackRetrying(5 * time.Millisecond)

	// Try to parse as IP first, otherwise DNS lookup.
	var mqttAddr netip.Addr
	if parsedAddr, err := netip.ParseAddr(mqttHost); err == nil {
		mqttAddr = parsedAddr
	} else {
		c.Logger.Info("dns:resolving " + mqttHost)
		addrs, err := rstack.DoLookupIP(mqttHost, 5*time.Second, 3)
		if err != nil {
			return errors.New("dns lookup for " + mqttHost + ": " + err.Error())
		}
		if len(addrs) == 0 {
			return errors.New("dns lookup for " + mqttHost + ": no addresses returned")
		}
		mqttAddr = addrs[0]
	}
	c.Logger.Info("mqtt:resolved IP: " + mqttAddr.String())
	port := parsePort(portStr)

	// Payload buffer reused across messages so the handler does not
	// allocate per publish.
	payloadBuf := make([]byte, 1024)
	cfg := mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, 4096)},
		OnPub: func(_ mqtt.Header, varPub mqtt.VariablesPublish, r io.Reader) error {
			n := 0
			for n < len(payloadBuf) {
				m, err := r.Read(payloadBuf[n:])
				n += m
				if err != nil {
					if err == io.EOF {
						break
					}
					return err
				}
			}
			c.dispatch(varPub.TopicName, payloadBuf[:n], commands)
			return nil
		},
	}
	var varconn mqtt.VariablesConnect
	varconn.SetDefaultMQTT([]byte(c.ID))
	varconn.KeepAlive = uint16(c.KeepAlive / time.Second)
	if c.Username != "" {
		varconn.Username = []byte(c.Username)
		if c.Password != "" {
			varconn.Password = []byte(c.Password)
		}
	}

	mqttClient := mqtt.NewClient(cfg)

	var conn tcp.Conn
	err = conn.Configure(tcp.ConnConfig{
		RxBuf:             make([]byte, c.TCPBufSize),
		TxBuf:             make([]byte, c.TCPBufSize),
		TxPacketQueueSize: 3,
	})
	if err != nil {
		return errors.New("tcp configure:" + err.Error())
	}

	closeConn := func(reason string) {
		c.Logger.Error("tcpconn:closing", slog.String("reason", reason))
		conn.Close()
		for i := 0; i < 50 && !conn.State().IsClosed(); i++ {
			time.Sleep(100 * time.Millisecond)
		}
		conn.Abort()
	}

	serverAddr := netip.AddrPortFrom(mqttAddr, port)

	// Connection loop for TCP+MQTT. Each iteration is one full session
	// attempt; status breadcrumbs go to the display between data.
	for {
		localPort := uint16(lnetoStack.Prand32()>>17) + 1024
		c.Logger.Info("socket:dialing", slog.Uint64("localPort", uint64(localPort)))
		c.status(commands, "Connecting to "+addr)

		err = rstack.DoDialTCP(&conn, localPort, serverAddr, 10*time.Second, 3)
		if err != nil {
			c.Logger.Error("socket:dial-failed", slog.String("err", err.Error()))
			closeConn("dial failed: " + err.Error())
			time.Sleep(2 * time.Second)
			continue
		}
		c.Logger.Info("tcp:connected", slog.String("state", conn.State().String()))

		c.Logger.Info("mqtt:start-connecting")
		c.status(commands, "MQTT: authenticating")
		conn.SetDeadline(time.Now().Add(c.Timeout))
		err = mqttClient.StartConnect(&conn, &varconn)
		if err != nil {
			c.Logger.Error("mqtt:start-connect-failed", slog.String("reason", err.Error()))
			c.status(commands, "MQTT connect failed")
			closeConn("connect failed")
			continue
		}
		if !c.await(mqttClient, func() bool { return mqttClient.IsConnected() }) {
			c.Logger.Error("mqtt:connect-failed", slog.Any("reason", mqttClient.Err()))
			c.status(commands, "MQTT connect timeout")
			closeConn("connect timed out")
			continue
		}

		c.Logger.Info("mqtt:subscribing", slog.String("filter", c.TopicFilter))
		vsub := mqtt.VariablesSubscribe{
			PacketIdentifier: uint16(lnetoStack.Prand32()),
			TopicFilters: []mqtt.SubscribeRequest{
				{TopicFilter: []byte(c.TopicFilter), QoS: mqtt.QoS0},
			},
		}
		conn.SetDeadline(time.Now().Add(c.Timeout))
		err = mqttClient.StartSubscribe(vsub)
		if err != nil {
			c.Logger.Error("mqtt:subscribe-failed", slog.String("err", err.Error()))
			c.status(commands, "Subscribe failed")
			closeConn("subscribe failed")
			continue
		}
		if !c.await(mqttClient, func() bool { return !mqttClient.AwaitingSuback() }) {
			c.Logger.Error("mqtt:suback-timeout")
			c.status(commands, "Subscribe timeout")
			closeConn("suback timed out")
			continue
		}

		c.Logger.Info("mqtt:subscribed")
		c.status(commands, "Connected. Waiting for arrivals...")

		keepalive := time.NewTicker(c.KeepAlive / 2)
		for mqttClient.IsConnected() {
			select {
			case <-keepalive.C:
				conn.SetDeadline(time.Now().Add(c.Timeout))
				if err := mqttClient.StartPing(); err != nil {
					c.Logger.Error("mqtt:ping-failed", slog.String("err", err.Error()))
				}
				c.logDiagnostics()
			default:
				// Poll for inbound publishes with a short deadline so the
				// keep-alive tick is never starved by an idle socket.
				conn.SetDeadline(time.Now().Add(readPoll))
				if err := mqttClient.HandleNext(); err != nil {
					c.Logger.Debug("mqtt:handle-next", slog.String("err", err.Error()))
				}
				// Release the thread: TinyGo runs on a single core.
				runtime.Gosched()
			}
		}
		keepalive.Stop()

		c.Logger.Error("mqtt:disconnected", slog.Any("reason", mqttClient.Err()))
		c.status(commands, "Disconnected. Reconnecting...")
		closeConn("disconnected")
		time.Sleep(2 * time.Second)
	}
}

// dispatch decodes one publish and hands the command to the render task.
// The send blocks when the queue is full: backpressure, not silent drops.
// Malformed messages are counted and dropped here; they never reach the
// reducer and never take the session down.
func (c *Client) dispatch(topic, payload []byte, commands chan<- board.Command) {
	cmd, err := c.decoder.Decode(string(topic), payload)
	if err != nil {
		c.decodeErrors++
		c.Logger.Warn("mqtt:drop-malformed",
			slog.String("topic", string(topic)),
			slog.String("err", err.Error()),
		)
		return
	}
	commands <- cmd
}

// status pushes a human-readable breadcrumb onto the display queue.
func (c *Client) status(commands chan<- board.Command, text string) {
	commands <- board.UpdateMessage{Text: text}
}

// await pumps the client until done reports true, for up to ~5 seconds.
func (c *Client) await(mqttClient *mqtt.Client, done func() bool) bool {
	for retries := 50; retries > 0 && !done(); retries-- {
		time.Sleep(100 * time.Millisecond)
		if err := mqttClient.HandleNext(); err != nil {
			c.Logger.Error("mqtt:handle-next-failed", slog.String("err", err.Error()))
		}
	}
	return done()
}

func (c *Client) logDiagnostics() {
	s := c.decoder.Stats
	c.Logger.Debug("mqtt:diagnostics",
		slog.Uint64("decodeErrors", uint64(c.decodeErrors)),
		slog.Uint64("badTopic", uint64(s.BadTopic)),
		slog.Uint64("badDirectionID", uint64(s.BadDirectionID)),
		slog.Uint64("badArrival", uint64(s.BadArrival)),
		slog.Uint64("badPayload", uint64(s.BadPayload)),
		slog.Uint64("truncatedPassages", uint64(s.TruncatedPassages)),
	)
}

// splitHostPort splits a host:port string into separate host and port
// components. Returns an error if the format is invalid.
func splitHostPort(addr string) (host, port string, err error) {
	// Find the last colon to support IPv6 addresses
	colonIdx := -1
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			colonIdx = i
			break
		}
	}
	if colonIdx == -1 {
		return "", "", errors.New("missing port in address")
	}
	host = addr[:colonIdx]
	port = addr[colonIdx+1:]
	if host == "" {
		return "", "", errors.New("empty host")
	}
	if port == "" {
		return "", "", errors.New("empty port")
	}
	return host, port, nil
}

// parsePort converts a port string to uint16.
// Returns 0 if parsing fails (caller should validate).
func parsePort(portStr string) uint16 {
	var port uint16
	for i := 0; i < len(portStr); i++ {
		if portStr[i] < '0' || portStr[i] > '9' {
			return 0
		}
		port = port*10 + uint16(portStr[i]-'0')
	}
	return port
}
