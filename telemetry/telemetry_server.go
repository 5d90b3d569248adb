package telemetry

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Pauli-Group/Hegemon-sub002/log"
)

// maxFrameSize bounds a single telemetry frame.
const maxFrameSize = 1 << 16

var serverLog = log.NewModule(log.Telemetry, "role", "server")

// Decoder turns an event payload into a JSON-marshalable value.
type Decoder func(payload []byte) (interface{}, error)

var discriminatorToString = map[int]string{
	Telemetry_Dropped: "DROPPED",

	Telemetry_Chunk_Request_Sent:   "CHUNK_REQUEST_SENT",
	Telemetry_Chunk_Request_Failed: "CHUNK_REQUEST_FAILED",
	Telemetry_Chunk_Served:         "CHUNK_SERVED",

	Telemetry_Sample_Verified: "SAMPLE_VERIFIED",
	Telemetry_Sample_Failed:   "SAMPLE_FAILED",

	Telemetry_Blob_Stored:      "BLOB_STORED",
	Telemetry_Binding_Rejected: "BINDING_REJECTED",

	Telemetry_Prune_Completed: "PRUNE_COMPLETED",
}

var discriminatorDecoder = map[int]Decoder{
	Telemetry_Dropped: DecodeDropped,

	Telemetry_Chunk_Request_Sent:   DecodeChunkRequest,
	Telemetry_Chunk_Request_Failed: DecodeChunkRequest,
	Telemetry_Chunk_Served:         DecodeChunkServed,

	Telemetry_Sample_Verified: DecodeSample,
	Telemetry_Sample_Failed:   DecodeSample,

	Telemetry_Blob_Stored:      DecodeBlobStored,
	Telemetry_Binding_Rejected: DecodeBindingRejected,

	Telemetry_Prune_Completed: DecodePruneCompleted,
}

// TelemetryServer accepts telemetry connections and appends one
// log.StructuredLog JSON line per event to its output.
type TelemetryServer struct {
	addr     string
	listener net.Listener
	out      io.Writer
	file     *os.File
	mu       sync.Mutex
	stopped  bool
	conns    sync.WaitGroup
}

// NewTelemetryServer creates a server that appends to logFilePath.
func NewTelemetryServer(addr, logFilePath string) (*TelemetryServer, error) {
	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	s := NewTelemetryServerWithWriter(addr, logFile)
	s.file = logFile
	return s, nil
}

func NewTelemetryServerWithWriter(addr string, w io.Writer) *TelemetryServer {
	return &TelemetryServer{addr: addr, out: w}
}

// Listen binds the listening socket; Serve then accepts on it.
func (s *TelemetryServer) Listen() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	serverLog.Info("telemetry server listening", "addr", listener.Addr().String())
	return nil
}

// Addr is the bound address, or nil before Listen.
func (s *TelemetryServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start listens and serves until Stop.
func (s *TelemetryServer) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

func (s *TelemetryServer) Serve() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("telemetry server not listening")
	}
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isStopped() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			serverLog.Warn("failed to accept telemetry connection", "err", err)
			continue
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *TelemetryServer) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Stop closes the listener and the output file.
func (s *TelemetryServer) Stop() error {
	s.mu.Lock()
	s.stopped = true
	listener := s.listener
	s.mu.Unlock()
	if listener != nil {
		listener.Close()
	}
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

func (s *TelemetryServer) handleConnection(conn net.Conn) {
	defer conn.Close()
	sender := conn.RemoteAddr().String()
	r := bufio.NewReader(conn)

	info, err := readFrame(r)
	if err != nil {
		serverLog.Warn("failed to read node info", "peer", sender, "err", err)
		return
	}
	ni, err := decodeNodeInfo(info)
	if err != nil {
		serverLog.Warn("malformed node info", "peer", sender, "err", err)
		return
	}
	s.write("NODE_INFO", sender, ni, time.Now().UTC())

	for {
		msg, err := readFrame(r)
		if err != nil {
			if err != io.EOF {
				serverLog.Debug("telemetry connection closed", "peer", sender, "err", err)
			}
			return
		}
		if len(msg) < 9 {
			serverLog.Warn("event data too short", "peer", sender, "len", len(msg))
			return
		}
		ts := time.UnixMicro(int64(binary.LittleEndian.Uint64(msg[:8]))).UTC()
		s.processEvent(ts, msg[8], msg[9:], sender)
	}
}

func readFrame(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}
	if length > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds %d", length, maxFrameSize)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read frame content: %w", err)
	}
	return data, nil
}

func decodeNodeInfo(p []byte) (NodeInfo, error) {
	r := newPayloadReader(p)
	if v := r.uint8(); v != 0 {
		return NodeInfo{}, fmt.Errorf("unsupported telemetry protocol version %d", v)
	}
	var info NodeInfo
	info.NodeName = r.string()
	info.NodeVersion = r.string()
	copy(info.PeerAddress[:], r.take(16))
	info.PeerPort = r.uint16()
	info.ChunkSize = r.uint32()
	info.SampleCount = r.uint32()
	return info, r.done()
}

func (s *TelemetryServer) processEvent(ts time.Time, discriminator byte, payload []byte, sender string) {
	eventType, msg, err := DecodeEvent(int(discriminator), payload)
	if err != nil {
		raw := fmt.Sprintf("discriminator:%d|raw_data:%s|err:%v", discriminator, formatBytes(payload), err)
		s.write("UNKNOWN_EVENT", sender, raw, ts)
		return
	}
	s.write(eventType, sender, msg, ts)
}

func (s *TelemetryServer) write(msgType, sender string, msg interface{}, ts time.Time) {
	entry, err := log.NewStructuredLog(msgType, sender, msg)
	if err != nil {
		serverLog.Warn("failed to encode telemetry event", "type", msgType, "err", err)
		return
	}
	entry.Time = ts
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out.Write(append(line, '\n'))
}

// DecodeEvent returns the event name and decoded payload for a discriminator.
func DecodeEvent(discriminator int, payload []byte) (string, interface{}, error) {
	name, ok := discriminatorToString[discriminator]
	decoder, hasDecoder := discriminatorDecoder[discriminator]
	if !ok || !hasDecoder {
		return "", nil, fmt.Errorf("unknown discriminator %d", discriminator)
	}
	msg, err := decoder(payload)
	if err != nil {
		return name, nil, err
	}
	return name, msg, nil
}

// GetEventTypeName returns the event type name for a discriminator
func GetEventTypeName(discriminator int) string {
	return discriminatorToString[discriminator]
}
