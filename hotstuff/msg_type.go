package hotstuff

import "reflect"

const (
	ProposalTag uint8 = iota
	VoteTag
	TimeoutTag
	TCTag
	AncestorRequestTag
	AncestorReplyTag
)

var reflectedTypesMap = map[uint8]reflect.Type{
	ProposalTag:        reflect.TypeOf(Block{}),
	VoteTag:            reflect.TypeOf(Vote{}),
	TimeoutTag:         reflect.TypeOf(Timeout{}),
	TCTag:              reflect.TypeOf(TC{}),
	AncestorRequestTag: reflect.TypeOf(AncestorRequest{}),
	AncestorReplyTag:   reflect.TypeOf(AncestorReply{}),
}

// msgTag returns the wire tag of a message pointer.
func msgTag(msg interface{}) (uint8, bool) {
	switch msg.(type) {
	case *Block:
		return ProposalTag, true
	case *Vote:
		return VoteTag, true
	case *Timeout:
		return TimeoutTag, true
	case *TC:
		return TCTag, true
	case *AncestorRequest:
		return AncestorRequestTag, true
	case *AncestorReply:
		return AncestorReplyTag, true
	}
	return 0, false
}
