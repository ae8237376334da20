package tracker

import "fmt"

// Kind identifies one category of processing pipeline. Each kind maps 1:1 to
// one tracker file name, so every pipeline category tracks its progress in a
// well-known location beside the session's processed data.
//
// NOTE: These values are persisted as file names on shared storage and are
// part of the stable on-disk contract.
type Kind string

const (
	KindChecksum    Kind = "checksum"
	KindPreparation Kind = "preparation"
	KindBehavior    Kind = "behavior"
	KindSuite2p     Kind = "suite2p"
	KindVideo       Kind = "video"
	KindForging     Kind = "forging"
	KindMultiday    Kind = "multiday"
	KindArchiving   Kind = "archiving"
	KindManifest    Kind = "manifest"
)

// Kinds lists every recognized tracker kind in pipeline execution order.
func Kinds() []Kind {
	return []Kind{
		KindChecksum,
		KindPreparation,
		KindBehavior,
		KindSuite2p,
		KindVideo,
		KindForging,
		KindMultiday,
		KindArchiving,
		KindManifest,
	}
}

// ParseKind validates a user-supplied kind name. Unknown names fail fast;
// the set of pipeline kinds is closed.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown tracker kind %q", s)
}

// FileName returns the tracker snapshot file name for this kind.
func (k Kind) FileName() string {
	return string(k) + ".yaml"
}

// String implements fmt.Stringer.
func (k Kind) String() string { return string(k) }
