// ABOUTME: 5-tuple flow identity for sticky path selection
// ABOUTME: TCP/UDP use ports; ICMP uses type/code in the port fields

package pathselect

import "fmt"

// IP protocol numbers the selector understands.
const (
	ProtoICMP = 1
	ProtoTCP  = 6
	ProtoUDP  = 17
)

// FlowKey identifies a flow by its 5-tuple. Direction matters: the reverse
// flow has its own key but is pinned to the same spine at install time.
type FlowKey struct {
	SrcIP   string
	DstIP   string
	Proto   uint8
	SrcPort uint16 // ICMP type for ProtoICMP
	DstPort uint16 // ICMP code for ProtoICMP
}

// Reverse swaps the tuple for the return direction.
func (k FlowKey) Reverse() FlowKey {
	return FlowKey{
		SrcIP:   k.DstIP,
		DstIP:   k.SrcIP,
		Proto:   k.Proto,
		SrcPort: k.DstPort,
		DstPort: k.SrcPort,
	}
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s->%s/%d:%d-%d", k.SrcIP, k.DstIP, k.Proto, k.SrcPort, k.DstPort)
}
