// ABOUTME: ObjectID generation, the default primary-key policy
// ABOUTME: 4-byte timestamp, 5-byte process identity, 3-byte counter

package value

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// ObjectID is a 12-byte identifier: seconds-since-epoch (4 bytes, big-endian)
// followed by a 5-byte value fixed for the life of the process and a 3-byte
// counter that increments per call, wrapping modulo 2^24.
type ObjectID [12]byte

var processIdentity [5]byte

func init() {
	if _, err := rand.Read(processIdentity[:]); err != nil {
		// crypto/rand failing means the platform is unusable for ID
		// generation at all; there is no degraded mode worth offering.
		panic(fmt.Sprintf("value: cannot seed ObjectID process identity: %v", err))
	}
}

var objectIDCounter uint32

// NewObjectID generates a fresh ObjectID.
func NewObjectID() ObjectID {
	var id ObjectID
	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:9], processIdentity[:])

	c := atomic.AddUint32(&objectIDCounter, 1) & 0x00FFFFFF
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)
	return id
}

// ObjectIDFromHex parses the 24-character hex representation of an ObjectID.
func ObjectIDFromHex(s string) (ObjectID, error) {
	var id ObjectID
	if len(s) != 24 {
		return id, fmt.Errorf("value: object id must be 24 hex characters, got %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("value: invalid object id: %w", err)
	}
	copy(id[:], b)
	return id, nil
}

// Hex renders the canonical 24-character lowercase hex form.
func (o ObjectID) Hex() string {
	return hex.EncodeToString(o[:])
}

func (o ObjectID) String() string { return o.Hex() }

// Timestamp returns the embedded creation time.
func (o ObjectID) Timestamp() time.Time {
	secs := binary.BigEndian.Uint32(o[0:4])
	return time.Unix(int64(secs), 0).UTC()
}

// Compare orders two ObjectIDs by their raw bytes, which also orders them
// by creation time since the timestamp occupies the leading bytes.
func (o ObjectID) Compare(other ObjectID) int {
	for i := range o {
		if o[i] != other[i] {
			if o[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
