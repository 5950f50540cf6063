package signal

import (
	"encoding/json"
	"fmt"

	"camlink/internal/core/domain"
)

// MessageType enumerates every message the relay understands. The set is
// closed: anything else is rejected with an error message back to the sender.
type MessageType string

const (
	// Client -> server registry operations
	TypeStartStream MessageType = "start_stream"
	TypeEndStream   MessageType = "end_stream"
	TypeJoinCamera  MessageType = "join_camera"
	TypeLeaveCamera MessageType = "leave_camera"
	TypeHeartbeat   MessageType = "heartbeat"
	TypeListCameras MessageType = "list_cameras"

	// Targeted relay between endpoints
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice_candidate"
	TypeNewViewer    MessageType = "new_viewer"

	// Server -> client
	TypeStreamStarted     MessageType = "stream_started"
	TypeStreamEnded       MessageType = "stream_ended"
	TypeHeartbeatAck      MessageType = "heartbeat_ack"
	TypeCameraListUpdated MessageType = "camera_list_updated"
	TypeError             MessageType = "error"
)

// Message is the wire envelope. From is stamped by the server on relayed
// messages so a client can never impersonate another endpoint.
type Message struct {
	Type    MessageType       `json:"type"`
	From    domain.EndpointID `json:"from,omitempty"`
	To      domain.EndpointID `json:"to,omitempty"`
	Payload json.RawMessage   `json:"payload,omitempty"`
}

type StartStreamPayload struct {
	Name        string `json:"name,omitempty"`
	ScreenShare bool   `json:"screen_share"`
}

type StreamStartedPayload struct {
	SessionID domain.SessionID `json:"session_id"`
	Name      string           `json:"name"`
}

type StreamEndedPayload struct {
	SessionID domain.SessionID `json:"session_id"`
}

type JoinCameraPayload struct {
	SessionID domain.SessionID `json:"session_id"`
}

type LeaveCameraPayload struct {
	SessionID domain.SessionID `json:"session_id"`
}

type NewViewerPayload struct {
	SessionID domain.SessionID  `json:"session_id"`
	ViewerID  domain.EndpointID `json:"viewer_id"`
}

// OfferPayload carries the SDP plus role metadata so the receiving side
// knows which incoming track is the camera and which is the screen without
// guessing from arrival order.
type OfferPayload struct {
	SDP                 string                      `json:"sdp"`
	ScreenShareExpected bool                        `json:"screen_share_expected"`
	TrackRoles          map[string]domain.TrackRole `json:"track_roles,omitempty"`
}

type AnswerPayload struct {
	SDP string `json:"sdp"`
}

type ICECandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
}

type CameraListPayload struct {
	Cameras []domain.Summary `json:"cameras"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// NewMessage builds an envelope with a marshalled payload.
func NewMessage(msgType MessageType, to domain.EndpointID, payload interface{}) (Message, error) {
	msg := Message{Type: msgType, To: to}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
		}
		msg.Payload = data
	}
	return msg, nil
}

// relayable reports whether the type is a targeted endpoint-to-endpoint
// message. Relayable messages require a destination; everything else is
// handled by the server itself.
func (t MessageType) relayable() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	default:
		return false
	}
}
