package models

import "github.com/pion/webrtc/v4"

// SignalType represents the type of WebRTC signaling message
type SignalType string

const (
	SignalTypeOffer     SignalType = "offer"
	SignalTypeAnswer    SignalType = "answer"
	SignalTypeCandidate SignalType = "ice-candidate"
)

// SignalMessage is the JSON envelope exchanged over the room-scoped
// signaling channel. Exactly one of Offer, Answer or Candidate is set,
// matching Type.
type SignalMessage struct {
	Type      SignalType                 `json:"type"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// NewOffer wraps a local offer description.
func NewOffer(desc webrtc.SessionDescription) SignalMessage {
	return SignalMessage{Type: SignalTypeOffer, Offer: &desc}
}

// NewAnswer wraps a local answer description.
func NewAnswer(desc webrtc.SessionDescription) SignalMessage {
	return SignalMessage{Type: SignalTypeAnswer, Answer: &desc}
}

// NewCandidate wraps a locally discovered ICE candidate.
func NewCandidate(candidate webrtc.ICECandidateInit) SignalMessage {
	return SignalMessage{Type: SignalTypeCandidate, Candidate: &candidate}
}
