package domain

import "fmt"

// EntityCommandRequest

type EntityCommandRequest interface {
	ActorRequest
	EntityCommand() string
}

type EntityCommandRequestMixIn struct {
	ActorRequestMixIn
}

func (r EntityCommandRequestMixIn) EntityCommand() string {
	return fmt.Sprintf("%T", r)
}

// EntityCommandResponse

type EntityCommandResponse interface {
	ActorResponse
	EntityCommandResponse() string
}

type EntityCommandResponseMixIn struct {
	ActorResponse
}

func (r EntityCommandResponseMixIn) EntityCommandResponse() string {
	return fmt.Sprintf("%T", r)
}

// Entity commands

// SwitchSetRequest is an HA switch command resolved against the current
// entity set: the poller looks up the target function and its write values.
type SwitchSetRequest struct {
	EntityCommandRequestMixIn
	EntityId string
	On       bool
}

type SwitchSetResponse struct {
	EntityCommandResponseMixIn
	Changed bool
}

// ensure interface compliance
var _ EntityCommandRequest = (*SwitchSetRequest)(nil)
