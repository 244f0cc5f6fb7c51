// Package event implements the signed event wire type. Signing and
// signature verification are the business of the crypto layer that seals
// content before it reaches the relay client; events arrive here already
// signed.
package event

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/minio/sha256-simd"

	"github.com/mixnetlabs/obscuratr/pkg/escape"
	"github.com/mixnetlabs/obscuratr/pkg/tags"
	"github.com/mixnetlabs/obscuratr/pkg/timestamp"
)

type T struct {
	ID        string      `json:"id"`
	PubKey    string      `json:"pubkey"`
	CreatedAt timestamp.T `json:"created_at"`
	Kind      int         `json:"kind"`
	Tags      tags.T      `json:"tags"`
	Content   string      `json:"content"`
	Sig       string      `json:"sig"`
}

const (
	KindProfileMetadata        int = 0
	KindTextNote               int = 1
	KindContactList            int = 3
	KindEncryptedDirectMessage int = 4
	KindDeletion               int = 5
	KindReaction               int = 7
	KindGiftWrap               int = 1059
	KindRelayListMetadata      int = 10002
	KindClientAuthentication   int = 22242
)

// String just returns the raw JSON as a string.
func (evt T) String() string {
	j, _ := json.Marshal(evt)
	return string(j)
}

// GetID serializes and returns the event ID as a string.
func (evt *T) GetID() string {
	h := sha256.Sum256(evt.Serialize())
	return hex.EncodeToString(h[:])
}

// Serialize outputs a byte array that can be hashed/signed to
// identify/authenticate. JSON encoding as defined in RFC4627.
func (evt *T) Serialize() []byte {
	// the serialization process is just putting everything into a JSON
	// array so the order is kept
	dst := make([]byte, 0)

	// the header portion is easy to serialize
	// [0,"pubkey",created_at,kind,[
	dst = append(dst, []byte(
		fmt.Sprintf(
			"[0,\"%s\",%d,%d,",
			evt.PubKey,
			evt.CreatedAt,
			evt.Kind,
		))...)

	// tags
	dst = evt.Tags.MarshalTo(dst)
	dst = append(dst, ',')

	// content needs to be escaped in general as it is user generated
	dst = escape.String(dst, evt.Content)
	dst = append(dst, ']')

	return dst
}
