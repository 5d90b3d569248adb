package telemetry

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// TelemetryClient manages the lifecycle of the connection to the telemetry server.
type TelemetryClient struct {
	addr        string
	conn        net.Conn
	connMu      sync.Mutex
	nextEventID atomic.Uint64
	disabled    bool
}

// NewNoOpTelemetryClient creates a disabled telemetry client that does nothing
func NewNoOpTelemetryClient() *TelemetryClient {
	return &TelemetryClient{
		disabled: true,
	}
}

// NewTelemetryClient builds a telemetry client targeting the given host/port.
func NewTelemetryClient(host, port string) *TelemetryClient {
	return &TelemetryClient{
		addr: net.JoinHostPort(host, port),
	}
}

// Enabled reports whether events are sent anywhere.
func (c *TelemetryClient) Enabled() bool {
	return c != nil && !c.disabled
}

// GetEventID returns a new unique event ID for linking related telemetry events.
func (c *TelemetryClient) GetEventID() uint64 {
	return c.nextEventID.Add(1) - 1
}

// Connect dials the server and sends the node information message.
func (c *TelemetryClient) Connect(nodeInfo NodeInfo) error {
	if c.disabled {
		return nil
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return fmt.Errorf("telemetry client already connected to %s", c.addr)
	}

	conn, err := net.DialTimeout("tcp", c.addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to telemetry server at %s: %w", c.addr, err)
	}
	if err := writeFrame(conn, encodeNodeInfo(nodeInfo)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send node info: %w", err)
	}
	c.conn = conn
	return nil
}

// Close terminates the telemetry connection and clears the stored state.
func (c *TelemetryClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// sendEvent frames timestamp || discriminator || payload. Write errors drop
// the connection; telemetry never blocks the caller's work.
func (c *TelemetryClient) sendEvent(discriminator byte, eventPayload []byte) {
	if !c.Enabled() {
		return
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return
	}

	message := make([]byte, 0, 9+len(eventPayload))
	message = binary.LittleEndian.AppendUint64(message, currentTimestamp())
	message = append(message, discriminator)
	message = append(message, eventPayload...)

	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	if err := writeFrame(c.conn, message); err != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// currentTimestamp is microseconds since the unix epoch.
func currentTimestamp() uint64 {
	return uint64(time.Now().UnixMicro())
}

func writeFrame(conn net.Conn, msg []byte) error {
	frame := make([]byte, 0, 4+len(msg))
	frame = binary.LittleEndian.AppendUint32(frame, uint32(len(msg)))
	frame = append(frame, msg...)
	_, err := conn.Write(frame)
	return err
}

func encodeNodeInfo(info NodeInfo) []byte {
	var msg []byte
	// Protocol version (0)
	msg = append(msg, 0)
	msg = append(msg, encodeString(info.NodeName, 32)...)
	msg = append(msg, encodeString(info.NodeVersion, 32)...)
	msg = append(msg, info.PeerAddress[:]...)
	msg = binary.LittleEndian.AppendUint16(msg, info.PeerPort)
	msg = binary.LittleEndian.AppendUint32(msg, info.ChunkSize)
	msg = binary.LittleEndian.AppendUint32(msg, info.SampleCount)
	return msg
}

// encodeString writes a one-byte length prefix; s is truncated to maxLen.
func encodeString(s string, maxLen int) []byte {
	b := []byte(s)
	if len(b) > maxLen {
		b = b[:maxLen]
	}
	out := make([]byte, 0, 1+len(b))
	out = append(out, byte(len(b)))
	return append(out, b...)
}

func encodeBool(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// ParseTelemetryAddress converts a host and port string into the telemetry wire
// representation of a peer address. IPv4 addresses are mapped into IPv6 form.
func ParseTelemetryAddress(host, port string) ([16]byte, uint16, error) {
	var ipBytes [16]byte

	parsedIP := net.ParseIP(host)
	if parsedIP == nil {
		return ipBytes, 0, fmt.Errorf("invalid IP address: %s", host)
	}
	parsedIP = parsedIP.To16()
	if parsedIP == nil {
		return ipBytes, 0, fmt.Errorf("unable to convert IP address to 16 bytes: %s", host)
	}
	copy(ipBytes[:], parsedIP)

	portValue, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return ipBytes, 0, fmt.Errorf("invalid port: %s", port)
	}
	return ipBytes, uint16(portValue), nil
}
