// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"
	FieldNodeID    = "node_id"
	FieldVoterID   = "voter_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Peer / election fields
	FieldPeer     = "peer"
	FieldLeader   = "leader"
	FieldMsgType  = "msg_type"
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Network fields
	FieldRegistry = "registry"
	FieldAddr     = "addr"
	FieldPath     = "path"
)
