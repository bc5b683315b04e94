package broadcast

// Event is a sequenced state-change notification fanned out to every
// connected observer.
type Event struct {
	Type        string `json:"event_type"`
	Data        any    `json:"data,omitempty"`
	ServerSeq   uint64 `json:"server_seq"`
	PlaylistSeq uint64 `json:"playlist_seq,omitempty"`
}

// Ack is the direct acknowledgment for a client-issued operation,
// routed only to the connection that issued it. ServerSeq lets the
// client order its own ack against the general broadcast stream.
type Ack struct {
	ClientOpID string `json:"client_op_id"`
	Success    bool   `json:"success"`
	ServerSeq  uint64 `json:"server_seq"`
	Data       any    `json:"data,omitempty"`
	Message    string `json:"message,omitempty"`
}
