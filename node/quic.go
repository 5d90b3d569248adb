package node

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base32"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/Pauli-Group/Hegemon-sub002/ed25519"
	"github.com/Pauli-Group/Hegemon-sub002/log"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/qlog"
)

// ALPN names the chunk protocol and its version.
const ALPN = "hegemon-da/0"

// Stream codes.
const (
	CE160_ChunkRequest uint8 = 160
)

// Stream error codes sent with CancelWrite.
const (
	ErrCodeIO              quic.StreamErrorCode = 1
	ErrCodeBadRequest      quic.StreamErrorCode = 2
	ErrCodeUnknownProtocol quic.StreamErrorCode = 3
	ErrCodeCancelled       quic.StreamErrorCode = 4
)

const (
	maxRequestSize  = 1 << 10
	maxResponseSize = 4 << 20
	streamTimeout   = 10 * time.Second
)

func GenerateQuicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:            time.Second,
		MaxIdleTimeout:             20 * time.Second,
		MaxIncomingStreams:         5000,
		MaxIncomingUniStreams:      -1,
		MaxStreamReceiveWindow:     8 * 1024 * 1024,
		MaxConnectionReceiveWindow: 64 * 1024 * 1024,
		Tracer:                     qlog.DefaultConnectionTracer,
	}
}

// toSAN renders an ed25519 key as the certificate DNS name "e" + base32(key).
func toSAN(pub ed25519.PublicKey) string {
	b32 := base32.StdEncoding.WithPadding(base32.NoPadding)
	return "e" + strings.ToLower(b32.EncodeToString(pub))
}

func generateSelfSignedCert(pub ed25519.PublicKey, priv ed25519.PrivateKey) (tls.Certificate, error) {
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"hegemon-da"},
		},
		NotBefore: time.Now().Add(-time.Minute),
		NotAfter:  time.Now().Add(365 * 24 * time.Hour),
		DNSNames:  []string{toSAN(pub)},
	}
	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, pub, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})
	return tls.X509KeyPair(certPEM, keyPEM)
}

// verifyEd25519Cert accepts a certificate signed by its own ed25519 key whose
// single DNS name is that key's SAN.
func verifyEd25519Cert(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return errors.New("no certificate provided")
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}
	pubKey, err := ed25519.VerifySelfSigned(cert)
	if err != nil {
		return err
	}
	expectedSAN := toSAN(pubKey)
	if len(cert.DNSNames) != 1 || cert.DNSNames[0] != expectedSAN {
		return fmt.Errorf("SAN mismatch: expected %s, got %v", expectedSAN, cert.DNSNames)
	}
	return nil
}

func serverTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates:          []tls.Certificate{cert},
		ClientAuth:            tls.RequireAnyClientCert,
		NextProtos:            []string{ALPN},
		MinVersion:            tls.VersionTLS13,
		VerifyPeerCertificate: verifyEd25519Cert,
	}
}

func clientTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates:          []tls.Certificate{cert},
		InsecureSkipVerify:    true,
		NextProtos:            []string{ALPN},
		MinVersion:            tls.VersionTLS13,
		VerifyPeerCertificate: verifyEd25519Cert,
	}
}

// setStreamDeadline applies ctx's deadline to the stream, if it has one.
func setStreamDeadline(ctx context.Context, stream quic.Stream) {
	if dl, ok := ctx.Deadline(); ok {
		stream.SetDeadline(dl)
	}
}

// sendQuicBytes writes one frame: u32 little-endian length || msg.
func sendQuicBytes(ctx context.Context, stream quic.Stream, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	setStreamDeadline(ctx, stream)
	frame := make([]byte, 4+len(msg))
	binary.LittleEndian.PutUint32(frame, uint32(len(msg)))
	copy(frame[4:], msg)
	_, err := stream.Write(frame)
	return err
}

// receiveQuicBytes reads one frame of at most limit bytes.
func receiveQuicBytes(ctx context.Context, stream quic.Stream, limit uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	setStreamDeadline(ctx, stream)
	var lengthPrefix [4]byte
	if _, err := io.ReadFull(stream, lengthPrefix[:]); err != nil {
		return nil, err
	}
	msgLen := binary.LittleEndian.Uint32(lengthPrefix[:])
	if msgLen > limit {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit %d", msgLen, limit)
	}
	buf := make([]byte, msgLen)
	if _, err := io.ReadFull(stream, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (n *Node) runServer() {
	for {
		conn, err := n.server.Accept(n.ctx)
		if err != nil {
			if n.ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				return
			}
			log.Warn(log.Net, "quic accept", "err", err)
			continue
		}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.handleConnection(conn)
		}()
	}
}

func (n *Node) handleConnection(conn quic.Connection) {
	defer conn.CloseWithError(0, "closing connection")
	remoteAddr := conn.RemoteAddr().String()
	log.Trace(log.Net, "handleConnection", "remoteAddr", remoteAddr)
	for {
		stream, err := conn.AcceptStream(n.ctx)
		if err != nil {
			log.Trace(log.Net, "AcceptStream", "remoteAddr", remoteAddr, "err", err)
			return
		}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.DispatchIncomingQUICStream(n.ctx, stream, remoteAddr); err != nil {
				log.Debug(log.Net, "stream failed", "remoteAddr", remoteAddr, "err", err)
			}
		}()
	}
}

// DispatchIncomingQUICStream reads code || frame and routes the request.
func (n *Node) DispatchIncomingQUICStream(ctx context.Context, stream quic.Stream, peer string) error {
	ctx, cancel := context.WithTimeout(ctx, streamTimeout)
	defer cancel()

	var code [1]byte
	setStreamDeadline(ctx, stream)
	if _, err := io.ReadFull(stream, code[:]); err != nil {
		stream.CancelWrite(ErrCodeBadRequest)
		return fmt.Errorf("read stream code: %w", err)
	}
	msg, err := receiveQuicBytes(ctx, stream, maxRequestSize)
	if err != nil {
		stream.CancelRead(ErrCodeBadRequest)
		stream.CancelWrite(ErrCodeBadRequest)
		return fmt.Errorf("read request: %w", err)
	}
	switch code[0] {
	case CE160_ChunkRequest:
		return n.onChunkRequest(ctx, stream, msg, peer)
	default:
		stream.CancelRead(ErrCodeUnknownProtocol)
		stream.CancelWrite(ErrCodeUnknownProtocol)
		return fmt.Errorf("unknown stream code %d", code[0])
	}
}
