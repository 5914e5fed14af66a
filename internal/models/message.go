package models

import "github.com/mossy-p/rendezvous/internal/params"

// Result is the status code carried in every signaling response body.
type Result string

const (
	ResultSuccess         Result = "SUCCESS"
	ResultError           Result = "ERROR"
	ResultUnknownRoom     Result = "UNKNOWN_ROOM"
	ResultUnknownClient   Result = "UNKNOWN_CLIENT"
	ResultRoomFull        Result = "FULL"
	ResultDuplicateClient Result = "DUPLICATE_CLIENT"
	ResultInvalidRequest  Result = "INVALID_REQUEST"
)

// Response is the body of message and leave responses. UpstreamStatus is
// set when the collider rejected a forwarded message.
type Response struct {
	Result         Result `json:"result"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}

// JoinParams are the room parameters of a successful join along with the
// messages buffered by the peer.
type JoinParams struct {
	params.RoomParameters
	Messages []string `json:"messages"`
}

// JoinResponse is the body of a join response.
type JoinResponse struct {
	Result Result      `json:"result"`
	Params *JoinParams `json:"params,omitempty"`
}

// JoinFailure is the params value of a failed join.
type JoinFailure struct {
	IsInitiator bool     `json:"is_initiator"`
	Messages    []string `json:"messages"`
}

// JoinErrorResponse is the body of a failed join.
type JoinErrorResponse struct {
	Result Result      `json:"result"`
	Params JoinFailure `json:"params"`
}

// RoomPageResponse is returned for the room page in place of the rendered
// template.
type RoomPageResponse struct {
	Result Result                 `json:"result"`
	Params *params.RoomParameters `json:"params,omitempty"`
}
