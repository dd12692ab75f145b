package voice

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/voicemesh/internal/domain"
)

// candidateBuffer holds candidates from senders we have no link with yet.
// Guarded by the coordinator mutex.
type candidateBuffer struct {
	max      int
	bySender map[domain.UserID][]webrtc.ICECandidateInit
}

func newCandidateBuffer(max int) *candidateBuffer {
	return &candidateBuffer{max: max, bySender: make(map[domain.UserID][]webrtc.ICECandidateInit)}
}

// add reports false when the sender's buffer is full and the candidate was dropped.
func (b *candidateBuffer) add(from domain.UserID, cand webrtc.ICECandidateInit) bool {
	if len(b.bySender[from]) >= b.max {
		return false
	}
	b.bySender[from] = append(b.bySender[from], cand)
	return true
}

func (b *candidateBuffer) take(from domain.UserID) []webrtc.ICECandidateInit {
	out := b.bySender[from]
	delete(b.bySender, from)
	return out
}

func (b *candidateBuffer) len(from domain.UserID) int {
	return len(b.bySender[from])
}

func (b *candidateBuffer) reset() {
	clear(b.bySender)
}
