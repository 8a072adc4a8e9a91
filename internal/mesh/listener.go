package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/meshscan-io/meshscan/internal/monitoring"
)

// maxDatagramSize is the largest fragment event datagram we accept. Mesh
// fragments with tens of thousands of vertices arrive chunked by the
// sensor bridge, so a single UDP payload stays under the IPv4 maximum.
const maxDatagramSize = 65507

// wireEvent is the JSON wire form of a sensor fragment event.
type wireEvent struct {
	Type      string       `json:"type"`
	ID        string       `json:"id"`
	Vertices  [][3]float64 `json:"vertices,omitempty"`
	Normals   [][3]float64 `json:"normals,omitempty"`
	Indices   []uint32     `json:"indices,omitempty"`
	Transform []float64    `json:"transform,omitempty"` // 16 values, row-major
}

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int           // socket receive buffer size; 0 keeps the OS default
	LogInterval time.Duration // stats summary interval (default: 30s)
	Session     *ScanSession
	Stats       *PipelineStats
}

// UDPListener receives fragment events as JSON datagrams from the sensor
// bridge and feeds them to the scan session. The core never polls the
// sensor; this listener is its only input edge. Malformed datagrams are
// counted and dropped, never fatal.
type UDPListener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	session     *ScanSession
	stats       *PipelineStats
	buffer      []byte
}

// NewUDPListener creates a listener with the provided configuration.
func NewUDPListener(cfg UDPListenerConfig) *UDPListener {
	if cfg.LogInterval == 0 {
		cfg.LogInterval = 30 * time.Second
	}
	return &UDPListener{
		address:     cfg.Address,
		rcvBuf:      cfg.RcvBuf,
		logInterval: cfg.LogInterval,
		session:     cfg.Session,
		stats:       cfg.Stats,
		buffer:      make([]byte, maxDatagramSize),
	}
}

// Start begins receiving and processing datagrams. It returns when the
// context is cancelled or an unrecoverable socket error occurs.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			monitoring.Logf("[UDPListener] warning: failed to set receive buffer to %d bytes: %v", l.rcvBuf, err)
		}
	}
	monitoring.Logf("[UDPListener] listening for fragment events on %s", conn.LocalAddr())

	var statsTicker *time.Ticker
	if l.stats != nil && l.logInterval > 0 {
		statsTicker = time.NewTicker(l.logInterval)
		defer statsTicker.Stop()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-statsTicker.C:
					l.stats.LogStats()
				}
			}
		}()
	}

	for {
		// A short read deadline keeps the loop responsive to shutdown.
		if err := conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}
		n, _, err := conn.ReadFromUDP(l.buffer)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				select {
				case <-ctx.Done():
					monitoring.Logf("[UDPListener] shutting down")
					return nil
				default:
					continue
				}
			}
			return fmt.Errorf("UDP read error: %w", err)
		}
		l.handleDatagram(l.buffer[:n])
	}
}

// handleDatagram decodes one event datagram and delivers it to the session.
func (l *UDPListener) handleDatagram(data []byte) {
	ev, err := decodeWireEvent(data)
	if err != nil {
		debugf("[UDPListener] dropped malformed datagram: %v", err)
		if l.stats != nil {
			l.stats.AddMalformed()
		}
		return
	}
	l.session.HandleEvent(ev)
}

// decodeWireEvent parses a JSON fragment event into a SensorEvent.
func decodeWireEvent(data []byte) (SensorEvent, error) {
	var we wireEvent
	if err := json.Unmarshal(data, &we); err != nil {
		return SensorEvent{}, fmt.Errorf("decode event: %w", err)
	}

	var evType SensorEventType
	switch SensorEventType(we.Type) {
	case EventFragmentAdded, EventFragmentUpdated, EventFragmentRemoved:
		evType = SensorEventType(we.Type)
	default:
		return SensorEvent{}, fmt.Errorf("unknown event type %q", we.Type)
	}

	raw := RawFragment{ID: we.ID, Transform: IdentityTransform()}
	if evType != EventFragmentRemoved {
		raw.Vertices = make([]Vec3, len(we.Vertices))
		for i, v := range we.Vertices {
			raw.Vertices[i] = Vec3{X: v[0], Y: v[1], Z: v[2]}
		}
		if len(we.Normals) > 0 {
			raw.Normals = make([]Vec3, len(we.Normals))
			for i, n := range we.Normals {
				raw.Normals[i] = Vec3{X: n[0], Y: n[1], Z: n[2]}
			}
		}
		raw.Indices = we.Indices
		if len(we.Transform) > 0 {
			if len(we.Transform) != 16 {
				return SensorEvent{}, fmt.Errorf("transform has %d entries, want 16", len(we.Transform))
			}
			copy(raw.Transform[:], we.Transform)
		}
	}
	return SensorEvent{Type: evType, Fragment: raw}, nil
}
