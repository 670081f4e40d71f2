package models

import "time"

// PhotoID is the local identity of a photo record.
type PhotoID int64

// EpisodeID is the local identity of an episode record.
type EpisodeID int64

// FieldBits tracks which metadata fields of a photo are set locally and
// which of them the server has acknowledged. Bits are additive; a merge
// never clears a bit wholesale.
type FieldBits uint32

const (
	FieldTimestamp FieldBits = 1 << iota
	FieldAspectRatio
	FieldLocation
	FieldPlacemark
	FieldEpisode
	FieldCaption
	FieldLink
	FieldLabels
	FieldShare
	FieldUnshare
	FieldDelete
)

// MetadataFields are the fields a metadata upload payload carries.
// Share, unshare and delete intents travel on their own operations and
// are acknowledged by those commits only.
const MetadataFields = FieldTimestamp | FieldAspectRatio | FieldLocation |
	FieldPlacemark | FieldEpisode | FieldCaption | FieldLink | FieldLabels

// Has reports whether every bit in mask is set.
func (f FieldBits) Has(mask FieldBits) bool { return f&mask == mask }

// ErrorKind classifies the network operation type an error occurred on.
type ErrorKind uint8

const (
	ErrKindMetadata ErrorKind = iota
	ErrKindUpload
	ErrKindDownload
	ErrKindShare
	ErrKindUnshare
	ErrKindDelete

	numErrorKinds
)

// String returns a short name for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrKindMetadata:
		return "metadata"
	case ErrKindUpload:
		return "upload"
	case ErrKindDownload:
		return "download"
	case ErrKindShare:
		return "share"
	case ErrKindUnshare:
		return "unshare"
	case ErrKindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ErrorBits records which operation kinds have already failed once for a
// record. A second failure of a marked kind quarantines the record.
type ErrorBits uint8

// Has reports whether the kind is marked.
func (e ErrorBits) Has(kind ErrorKind) bool { return e&(1<<kind) != 0 }

// Set returns the bits with the kind marked.
func (e ErrorBits) Set(kind ErrorKind) ErrorBits { return e | 1<<kind }

// Clear returns the bits with the kind unmarked.
func (e ErrorBits) Clear(kind ErrorKind) ErrorBits { return e &^ (1 << kind) }

// ShareInfo describes a pending or committed share of a photo.
type ShareInfo struct {
	Timestamp  int64    `json:"timestamp"`
	Recipients []string `json:"recipients"` // sorted identities
}

// SameRecipients reports whether two shares target byte-identical
// recipient lists. Share uploads batch only over identical lists.
func (s *ShareInfo) SameRecipients(other *ShareInfo) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.Recipients) != len(other.Recipients) {
		return false
	}
	for i := range s.Recipients {
		if s.Recipients[i] != other.Recipients[i] {
			return false
		}
	}
	return true
}

// Photo is the unit record of the catalog.
type Photo struct {
	ID       PhotoID `json:"id"`
	ServerID string  `json:"server_id,omitempty"`
	AssetKey string  `json:"asset_key,omitempty"`

	Timestamp   int64   `json:"timestamp,omitempty"` // unix seconds
	AspectRatio float64 `json:"aspect_ratio,omitempty"`

	Location  PlaceRef `json:"location,omitempty"`
	Placemark PlaceRef `json:"placemark,omitempty"`

	Episode EpisodeID `json:"episode,omitempty"`

	Caption string `json:"caption,omitempty"`
	Link    string `json:"link,omitempty"`

	Labels Labels `json:"labels"`

	Transfers      Transfers `json:"transfers"`
	MetadataUpload bool      `json:"metadata_upload,omitempty"`

	// LocalFields marks fields that have a local value; ServerFields
	// marks fields the server has acknowledged. LocalFields &^
	// ServerFields is what a metadata upload must carry.
	LocalFields  FieldBits `json:"local_fields,omitempty"`
	ServerFields FieldBits `json:"server_fields,omitempty"`

	Share       *ShareInfo `json:"share,omitempty"`
	UnshareTime int64      `json:"unshare_time,omitempty"`
	DeleteTime  int64      `json:"delete_time,omitempty"`

	Errors      ErrorBits      `json:"errors,omitempty"`
	AssetErrors [NumSizes]bool `json:"asset_errors,omitempty"`

	// NeedsFetch marks a placeholder created from a bare server id; the
	// photo stays unattached and unscheduled until the full metadata
	// fetch completes.
	NeedsFetch bool `json:"needs_fetch,omitempty"`
}

// Time returns the photo timestamp as time.Time.
func (p *Photo) Time() time.Time { return time.Unix(p.Timestamp, 0) }

// DirtyFields returns the metadata fields the server does not have yet.
func (p *Photo) DirtyFields() FieldBits { return p.LocalFields &^ p.ServerFields }

// Quarantined reports whether the photo carries the terminal error label.
func (p *Photo) Quarantined() bool { return p.Labels.Error }

// SharePending reports whether a share exists the server has not
// acknowledged.
func (p *Photo) SharePending() bool {
	return p.Share != nil && !p.ServerFields.Has(FieldShare)
}

// UnsharePending reports whether an unshare is awaiting upload.
func (p *Photo) UnsharePending() bool {
	return p.UnshareTime != 0 && !p.ServerFields.Has(FieldUnshare)
}

// DeletePending reports whether a delete is awaiting upload.
func (p *Photo) DeletePending() bool {
	return p.DeleteTime != 0 && !p.ServerFields.Has(FieldDelete)
}

// NeedsNetwork reports whether any network operation is outstanding for
// the photo. Quarantined photos never need network.
func (p *Photo) NeedsNetwork() bool {
	if p.Quarantined() {
		return false
	}
	return p.MetadataUpload || !p.Transfers.Idle() ||
		p.SharePending() || p.UnsharePending() || p.DeletePending()
}

// SetLocal records a local value for the given fields and re-marks the
// metadata as needing upload when the server is behind.
func (p *Photo) SetLocal(fields FieldBits) {
	p.LocalFields |= fields
	if p.DirtyFields()&MetadataFields != 0 && !p.Quarantined() {
		p.MetadataUpload = true
	}
}
