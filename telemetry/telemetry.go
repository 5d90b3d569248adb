package telemetry

// Telemetry event discriminators.
const (
	// Meta events
	Telemetry_Dropped = 0

	// Chunk transfer events (10-12)
	Telemetry_Chunk_Request_Sent   = 10
	Telemetry_Chunk_Request_Failed = 11
	Telemetry_Chunk_Served         = 12

	// Sampling events (20-21)
	Telemetry_Sample_Verified = 20
	Telemetry_Sample_Failed   = 21

	// Import events (30-31)
	Telemetry_Blob_Stored      = 30
	Telemetry_Binding_Rejected = 31

	// Retention events (40)
	Telemetry_Prune_Completed = 40
)

const (
	maxPeerLen   = 64
	maxReasonLen = 128
)

// NodeInfo is sent once when a client connects.
type NodeInfo struct {
	NodeName    string   `json:"node_name"`
	NodeVersion string   `json:"node_version"`
	PeerAddress [16]byte `json:"-"`
	PeerPort    uint16   `json:"peer_port"`
	ChunkSize   uint32   `json:"chunk_size"`
	SampleCount uint32   `json:"sample_count"`
}
